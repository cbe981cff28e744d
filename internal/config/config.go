// Package config loads orchestra's configuration from a YAML file,
// environment variables, and a local .env file, in the teacher's layered
// viper+godotenv style.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the application's full configuration tree.
type Config struct {
	AppName   string `mapstructure:"app_name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	TLSEnabled   bool   `mapstructure:"tls_enabled"`
	TLSCertFile  string `mapstructure:"tls_cert_file"`
	TLSKeyFile   string `mapstructure:"tls_key_file"`
}

// DatabaseConfig holds ArangoDB connection configuration.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// QueueConfig selects and configures the work queue implementation.
type QueueConfig struct {
	// Type is "redis" or "memory". "memory" is intended for local
	// development and tests; production deployments use "redis".
	Type      string `mapstructure:"type"`
	RedisAddr string `mapstructure:"redis_addr"`
	QueueName string `mapstructure:"queue_name"`
}

// OrchestratorConfig holds the platform's documented limits and the
// recovery sweeper's schedule.
type OrchestratorConfig struct {
	MaxWorkflowDepth    int           `mapstructure:"max_workflow_depth"`
	MaxTasksPerWorkflow int           `mapstructure:"max_tasks_per_workflow"`
	SweepSchedule       string        `mapstructure:"sweep_schedule"`
	RequeueThreshold    time.Duration `mapstructure:"requeue_threshold"`

	DefaultRetryMaxAttempts int           `mapstructure:"default_retry_max_attempts"`
	DefaultRetryInitialWait time.Duration `mapstructure:"default_retry_initial_wait"`
	DefaultRetryMaxWait     time.Duration `mapstructure:"default_retry_max_wait"`
	DefaultRetryBackoffBase float64       `mapstructure:"default_retry_backoff_base"`
}

// Load starts from built-in defaults, overlays an optional YAML file and
// then environment variables prefixed ORCHESTRA_. A local .env file is
// loaded into the environment first; it does not override variables
// that are already set there.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppName:   "orchestra",
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     8529,
			Database: "orchestra",
			Username: "root",
		},
		Queue: QueueConfig{
			Type:      "redis",
			RedisAddr: "localhost:6379",
			QueueName: "tasks",
		},
		Orchestrator: OrchestratorConfig{
			MaxWorkflowDepth:        10,
			MaxTasksPerWorkflow:     1000,
			SweepSchedule:           "@every 30s",
			RequeueThreshold:        2 * time.Minute,
			DefaultRetryMaxAttempts: 3,
			DefaultRetryInitialWait: time.Second,
			DefaultRetryMaxWait:     60 * time.Second,
			DefaultRetryBackoffBase: 2,
		},
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		if filepath.IsAbs(configPath) {
			viper.SetConfigFile(configPath)
		} else {
			viper.AddConfigPath(filepath.Dir(configPath))
			viper.SetConfigName(filepath.Base(configPath[:len(configPath)-len(filepath.Ext(configPath))]))
		}
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/orchestra")

	viper.SetEnvPrefix("ORCHESTRA")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if password := os.Getenv("ORCHESTRA_DATABASE_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if port := os.Getenv("ORCHESTRA_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if dbPort := os.Getenv("ORCHESTRA_DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = p
		}
	}
	if redisAddr := os.Getenv("ORCHESTRA_QUEUE_REDIS_ADDR"); redisAddr != "" {
		cfg.Queue.RedisAddr = redisAddr
	}

	return cfg, nil
}
