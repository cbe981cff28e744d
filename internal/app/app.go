// Package app wires orchestra's components into a running process:
// configuration, storage, the work queue, the orchestrator, the
// recovery sweeper, and the HTTP API, generalized from the teacher's
// internal/app.App composition root.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cortexflow/orchestra/internal/api"
	"github.com/cortexflow/orchestra/internal/config"
	"github.com/cortexflow/orchestra/internal/database"
	"github.com/cortexflow/orchestra/internal/orchestrator"
	"github.com/cortexflow/orchestra/internal/queue"
	"github.com/cortexflow/orchestra/internal/queue/memqueue"
	"github.com/cortexflow/orchestra/internal/queue/redisqueue"
	"github.com/cortexflow/orchestra/internal/store/arangostore"
	"github.com/cortexflow/orchestra/internal/task"
	"github.com/cortexflow/orchestra/internal/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// App is the orchestrator API process: the HTTP server plus the
// recovery sweeper that runs alongside it in the same process.
type App struct {
	config       *config.Config
	logger       *logrus.Logger
	dbClient     *database.ArangoClient
	tasks        task.Repository
	workQueue    queue.WorkQueue
	orchestrator *orchestrator.Orchestrator
	sweeper      *orchestrator.Sweeper
	apiServer    *api.Server
}

// New constructs an App from cfg, connecting to ArangoDB and the
// configured work queue and wiring the orchestrator and its HTTP
// surface on top of them.
func New(cfg *config.Config) (*App, error) {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	dbClient, err := database.NewArangoClient(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to arangodb: %w", err)
	}
	if err := dbClient.Ping(); err != nil {
		logger.WithError(err).Warn("arangodb ping failed, continuing")
	}

	taskStore, err := arangostore.NewTaskStore(dbClient.Database(), logger)
	if err != nil {
		return nil, fmt.Errorf("init task store: %w", err)
	}
	limits := workflow.Limits{
		MaxDepth: cfg.Orchestrator.MaxWorkflowDepth,
		MaxTasks: cfg.Orchestrator.MaxTasksPerWorkflow,
	}
	workflowStore, err := arangostore.NewWorkflowStore(dbClient.Database(), taskStore, limits, logger)
	if err != nil {
		return nil, fmt.Errorf("init workflow store: %w", err)
	}

	wq, err := newWorkQueue(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init work queue: %w", err)
	}

	o := orchestrator.New(workflowStore, taskStore, wq, logger)
	sweeper := orchestrator.NewSweeper(o, cfg.Orchestrator.SweepSchedule, cfg.Orchestrator.RequeueThreshold, logger)
	createWorkflow := orchestrator.NewCreateWorkflowUseCase(workflowStore, limits)

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeout) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeout) * time.Second
	serverConfig.TLSEnabled = cfg.Server.TLSEnabled
	serverConfig.TLSCertFile = cfg.Server.TLSCertFile
	serverConfig.TLSKeyFile = cfg.Server.TLSKeyFile
	if cfg.LogLevel != "debug" {
		serverConfig.Environment = "production"
	}

	apiServer := api.NewServer(serverConfig, &api.Services{
		Orchestrator:   o,
		CreateWorkflow: createWorkflow,
		Workflows:      workflowStore,
	})

	return &App{
		config:       cfg,
		logger:       logger,
		dbClient:     dbClient,
		tasks:        taskStore,
		workQueue:    wq,
		orchestrator: o,
		sweeper:      sweeper,
		apiServer:    apiServer,
	}, nil
}

func newWorkQueue(cfg *config.Config, logger *logrus.Logger) (queue.WorkQueue, error) {
	switch cfg.Queue.Type {
	case "memory":
		return memqueue.New(), nil
	default:
		client := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr})
		return redisqueue.New(client, logger), nil
	}
}

// Orchestrator exposes the wired orchestrator, for callers (such as
// cmd/orchestra-worker) that need to drive it directly rather than
// through the HTTP surface.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// WorkQueue exposes the wired work queue.
func (a *App) WorkQueue() queue.WorkQueue { return a.workQueue }

// Tasks exposes the wired task repository, so a worker process can load
// the full task.Task a queue.Message refers to before executing it.
func (a *App) Tasks() task.Repository { return a.tasks }

// Subscriber exposes the wired queue's consumer side, used by worker
// processes. Both memqueue.Queue and redisqueue.Queue implement it.
func (a *App) Subscriber() queue.Subscriber {
	return a.workQueue.(queue.Subscriber)
}

// QueueName returns the configured queue name workers should subscribe
// to.
func (a *App) QueueName() string { return a.config.Queue.QueueName }

// Logger exposes the app's configured logger.
func (a *App) Logger() *logrus.Logger { return a.logger }

// Run starts the HTTP server and recovery sweeper, and blocks until an
// interrupt signal is received, then shuts both down gracefully.
func (a *App) Run() error {
	a.sweeper.Start()

	errCh := make(chan error, 1)
	go func() {
		a.logger.WithFields(logrus.Fields{
			"host": a.config.Server.Host,
			"port": a.config.Server.Port,
		}).Info("starting orchestra api server")
		if err := a.apiServer.Start(); err != nil {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-quit:
	}

	a.logger.Info("shutting down")
	a.sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.apiServer.Stop(shutdownCtx); err != nil {
		a.logger.WithError(err).Error("api server shutdown error")
	}
	if err := a.workQueue.Close(); err != nil {
		a.logger.WithError(err).Error("work queue close error")
	}
	if err := a.dbClient.Close(); err != nil {
		a.logger.WithError(err).Error("database close error")
	}
	return nil
}
