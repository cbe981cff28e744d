package orchestrator

import (
	"context"
	"time"

	"github.com/cortexflow/orchestra/internal/task"
	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
)

// DefaultSweepSchedule runs the recovery sweeper every 30 seconds.
const DefaultSweepSchedule = "@every 30s"

// DefaultRequeueThreshold is how long a task may sit in queued before
// the sweeper treats it as lost and republishes it.
const DefaultRequeueThreshold = 2 * time.Minute

// Sweeper periodically reconciles tasks that are stuck: running past
// their configured timeout, or queued long enough that a prior publish
// (or the worker that picked it up) is presumed lost. It is the
// orchestrator's answer to the queue's at-least-once, no-redelivery-
// guarantee semantics, grounded on the teacher's
// executionMonitorWorker/checkExecutionHealth pattern but driven by a
// cron schedule instead of a raw ticker.
type Sweeper struct {
	orchestrator     *Orchestrator
	schedule         string
	requeueThreshold time.Duration
	cron             *cron.Cron
	logger           *logrus.Logger
}

// NewSweeper constructs a Sweeper. schedule is a robfig/cron expression;
// an empty string uses DefaultSweepSchedule.
func NewSweeper(o *Orchestrator, schedule string, requeueThreshold time.Duration, logger *logrus.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if requeueThreshold <= 0 {
		requeueThreshold = DefaultRequeueThreshold
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sweeper{
		orchestrator:     o,
		schedule:         schedule,
		requeueThreshold: requeueThreshold,
		logger:           logger,
	}
}

// Start begins running the sweep on its schedule. Call Stop to halt it.
func (s *Sweeper) Start() {
	s.cron = cron.New()
	_ = s.cron.AddFunc(s.schedule, s.sweepOnce)
	s.cron.Start()
}

// Stop halts the sweep schedule.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// sweepOnce runs one pass over every active workflow's tasks, timing
// out running tasks past their deadline and republishing queued tasks
// that have waited past requeueThreshold.
func (s *Sweeper) sweepOnce() {
	ctx := context.Background()
	workflows, err := s.orchestrator.workflows.GetActive(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("sweeper: failed to list active workflows")
		return
	}
	now := time.Now().UTC()
	for _, w := range workflows {
		for _, t := range w.Tasks() {
			s.sweepTask(ctx, t, now)
		}
	}
}

func (s *Sweeper) sweepTask(ctx context.Context, t *task.Task, now time.Time) {
	status := t.Status()
	switch status.Status {
	case task.StatusRunning:
		started := t.StartedAt()
		if started == nil {
			return
		}
		deadline := started.Add(time.Duration(t.Config().TimeoutSeconds) * time.Second)
		if now.Before(deadline) {
			return
		}
		// Route through OnTaskFailed rather than Task.Timeout: Timeout
		// moves the task to the timeout status without consulting the
		// retry policy, while a deadline miss should still consume the
		// task's retry budget exactly like any other failure.
		// Task.Timeout remains for a caller that wants to force the
		// timeout status directly, outside the retry policy.
		if err := s.orchestrator.OnTaskFailed(ctx, t.ID(), "task execution timeout"); err != nil {
			s.logger.WithError(err).WithField("task_id", t.ID()).Warn("sweeper: failed to process timeout")
		}
	case task.StatusQueued:
		if now.Sub(status.UpdatedAt) < s.requeueThreshold {
			return
		}
		msg := publishMessage(t)
		if err := s.orchestrator.queue.Publish(ctx, s.orchestrator.queueName, msg); err != nil {
			s.logger.WithError(err).WithField("task_id", t.ID()).Warn("sweeper: failed to republish stuck task")
		}
	}
}
