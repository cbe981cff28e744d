// Command orchestra-worker pulls queued task messages and runs their
// side effects, generalized from the teacher's worker process that
// drove internal/task.Executor off its agent runtime's work queue.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cortexflow/orchestra/internal/app"
	"github.com/cortexflow/orchestra/internal/config"
	"github.com/cortexflow/orchestra/internal/executor"
	"github.com/cortexflow/orchestra/internal/orchestrator"
	"github.com/cortexflow/orchestra/internal/queue"
	"github.com/cortexflow/orchestra/internal/task"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	concurrency := flag.Int("concurrency", 4, "Number of concurrent task executions")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	application, err := app.New(cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize application")
	}

	exec := executor.New(executor.Config{
		DefaultTimeout: 5 * time.Minute,
		MaxTimeout:     30 * time.Minute,
	}, logger)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	handlers := []executor.Handler{
		executor.NewHTTPHandler(httpClient),
		executor.NewWebhookHandler(httpClient),
		executor.NewShellHandler("/bin/sh"),
	}
	for _, h := range handlers {
		if err := exec.RegisterHandler(h); err != nil {
			logger.WithError(err).WithField("task_type", h.Type()).Fatal("failed to register handler")
		}
	}
	exec.Start()
	defer exec.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down worker")
		cancel()
	}()

	queueName := application.QueueName()
	if queueName == "" {
		queueName = orchestrator.DefaultQueueName
	}

	logger.WithFields(logrus.Fields{
		"queue":       queueName,
		"concurrency": *concurrency,
	}).Info("starting orchestra worker")

	sem := make(chan struct{}, *concurrency)
	subscriber := application.Subscriber()
	orch := application.Orchestrator()
	tasks := application.Tasks()

	for {
		if ctx.Err() != nil {
			break
		}

		msg, err := subscriber.Receive(ctx, queueName)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.WithError(err).Warn("receive failed, retrying")
			time.Sleep(time.Second)
			continue
		}

		sem <- struct{}{}
		go func(m queue.Message) {
			defer func() { <-sem }()
			runTask(ctx, logger, tasks, orch, exec, subscriber, queueName, m)
		}(msg)
	}

	for i := 0; i < cap(sem); i++ {
		sem <- struct{}{}
	}
	logger.Info("worker stopped")
}

// runTask loads the full task behind msg, executes its side effect, and
// reports the outcome back to the orchestrator.
func runTask(
	ctx context.Context,
	logger *logrus.Logger,
	tasks task.Repository,
	orch *orchestrator.Orchestrator,
	exec *executor.Executor,
	subscriber queue.Subscriber,
	queueName string,
	msg queue.Message,
) {
	log := logger.WithFields(logrus.Fields{
		"task_id":     msg.TaskID,
		"workflow_id": msg.WorkflowID,
		"task_type":   msg.TaskType,
	})

	t, err := tasks.GetByID(ctx, msg.TaskID)
	if err != nil {
		log.WithError(err).Error("failed to load task")
		return
	}

	// The queue only carries a queued task through to a worker; moving it
	// to running (and persisting that) is the worker's job, since the
	// orchestrator's own API only reacts to completion and failure.
	if err := t.Start(); err != nil {
		log.WithError(err).Warn("task already past queued, skipping")
		if ackErr := subscriber.Ack(ctx, queueName, msg); ackErr != nil {
			log.WithError(ackErr).Warn("failed to ack message")
		}
		return
	}
	if err := tasks.Save(ctx, t); err != nil {
		log.WithError(err).Error("failed to persist task start")
		return
	}

	result, err := exec.Execute(ctx, t)
	if err != nil {
		log.WithError(err).Warn("task execution failed")
		if failErr := orch.OnTaskFailed(ctx, msg.TaskID, err.Error()); failErr != nil {
			log.WithError(failErr).Error("failed to record task failure")
		}
	} else {
		if doneErr := orch.OnTaskCompleted(ctx, msg.TaskID, result); doneErr != nil {
			log.WithError(doneErr).Error("failed to record task completion")
		}
	}

	if ackErr := subscriber.Ack(ctx, queueName, msg); ackErr != nil {
		log.WithError(ackErr).Warn("failed to ack message")
	}
}
