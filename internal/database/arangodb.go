// Package database manages the ArangoDB connection orchestra's stores
// run against. Collection and index bootstrapping is the concern of
// the stores themselves (internal/store/arangostore); this package
// only owns getting a healthy connection, which on a freshly-started
// docker-compose stack can mean the database isn't listening yet.
package database

import (
	"context"
	"fmt"
	"time"

	driver "github.com/arangodb/go-driver"
	"github.com/arangodb/go-driver/http"
	"github.com/cortexflow/orchestra/internal/config"
	"github.com/cortexflow/orchestra/internal/retry"
	log "github.com/sirupsen/logrus"
)

// connectRetryPolicy governs NewArangoClient's dial retries: five
// retries after the first dial (six attempts in all), exponential
// backoff from 500ms up to 10s. The same value
// object that paces a task's retries paces the platform's own startup
// dependency wait.
var connectRetryPolicy = mustPolicy(retry.New(true, 5, retry.StrategyExponential, 500*time.Millisecond, 10*time.Second, 2))

func mustPolicy(p retry.Policy, err error) retry.Policy {
	if err != nil {
		panic(err)
	}
	return p
}

// ArangoClient wraps a connected ArangoDB client and database handle.
type ArangoClient struct {
	client   driver.Client
	db       driver.Database
	config   *config.DatabaseConfig
	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewArangoClient validates cfg, then dials ArangoDB and opens
// cfg.Database, retrying with connectRetryPolicy's backoff if the
// server isn't reachable yet.
func NewArangoClient(cfg *config.DatabaseConfig) (*ArangoClient, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("database: invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	client, err := dialWithRetry(ctx, cfg)
	if err != nil {
		cancel()
		return nil, err
	}

	db, err := ensureDatabase(ctx, client, cfg.Database)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to ensure database: %w", err)
	}

	log.WithFields(log.Fields{
		"host":     cfg.Host,
		"port":     cfg.Port,
		"database": cfg.Database,
	}).Info("connected to ArangoDB")

	return &ArangoClient{
		client:   client,
		db:       db,
		config:   cfg,
		ctx:      ctx,
		cancelFn: cancel,
	}, nil
}

func validateConfig(cfg *config.DatabaseConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Host == "" {
		return fmt.Errorf("host is required")
	}
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

// dialWithRetry builds the ArangoDB client and confirms it actually
// answers (via Version) before handing it back, retrying on failure
// per connectRetryPolicy so a worker started slightly ahead of its
// database container doesn't crash-loop.
func dialWithRetry(ctx context.Context, cfg *config.DatabaseConfig) (driver.Client, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		client, err := dial(cfg)
		if err == nil {
			if _, verErr := client.Version(ctx); verErr == nil {
				return client, nil
			} else {
				err = verErr
			}
		}
		lastErr = err

		if !connectRetryPolicy.ShouldRetry(attempt) {
			return nil, fmt.Errorf("failed to connect to arangodb after %d attempts: %w", attempt+1, lastErr)
		}
		delay := connectRetryPolicy.CalculateDelay(attempt)
		log.WithFields(log.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
		}).WithError(err).Warn("arangodb not ready, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func dial(cfg *config.DatabaseConfig) (driver.Client, error) {
	connConfig := http.ConnectionConfig{
		Endpoints: []string{fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)},
	}
	conn, err := http.NewConnection(connConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	clientConfig := driver.ClientConfig{
		Connection:     conn,
		Authentication: driver.BasicAuthentication(cfg.Username, cfg.Password),
	}
	client, err := driver.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, nil
}

// ensureDatabase opens dbName, creating it first if it doesn't exist.
func ensureDatabase(ctx context.Context, client driver.Client, dbName string) (driver.Database, error) {
	exists, err := client.DatabaseExists(ctx, dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}

	if exists {
		db, err := client.Database(ctx, dbName)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		log.WithField("database", dbName).Info("using existing database")
		return db, nil
	}

	db, err := client.CreateDatabase(ctx, dbName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	log.WithField("database", dbName).Info("created new database")
	return db, nil
}

// Database returns the open database handle.
func (ac *ArangoClient) Database() driver.Database { return ac.db }

// Client returns the underlying driver client.
func (ac *ArangoClient) Client() driver.Client { return ac.client }

// Context returns the client's background context, cancelled on Close.
func (ac *ArangoClient) Context() context.Context { return ac.ctx }

// Close cancels the client's context. The driver's HTTP connection has
// no separate teardown call of its own.
func (ac *ArangoClient) Close() error {
	if ac.cancelFn != nil {
		ac.cancelFn()
	}
	log.Info("closed ArangoDB connection")
	return nil
}

// Ping verifies the connection is still alive.
func (ac *ArangoClient) Ping() error {
	version, err := ac.client.Version(ac.ctx)
	if err != nil {
		return fmt.Errorf("failed to ping ArangoDB: %w", err)
	}
	log.WithField("version", version.Version).Debug("ArangoDB ping successful")
	return nil
}
