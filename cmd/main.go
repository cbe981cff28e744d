// Command orchestra runs the API process: the HTTP surface plus the
// recovery sweeper, wired by internal/app.App.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cortexflow/orchestra/internal/app"
	"github.com/cortexflow/orchestra/internal/config"
	"github.com/sirupsen/logrus"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	dryRun := flag.Bool("dry-run", false, "load and validate configuration, then exit without starting")
	flag.Parse()

	if *showVersion {
		fmt.Printf("orchestra %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger.WithFields(logrus.Fields{
		"version":     version,
		"build_time":  buildTime,
		"git_commit":  gitCommit,
		"queue":       cfg.Queue.Type,
		"server_addr": fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
	}).Info("starting orchestra")

	application, err := app.New(cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize application")
	}

	if *dryRun {
		logger.Info("configuration valid, exiting (dry-run)")
		return
	}

	if err := application.Run(); err != nil {
		logger.WithError(err).Fatal("application failed")
	}
}
