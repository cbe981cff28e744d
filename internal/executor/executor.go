// Package executor runs the side effect a queued task.Message describes
// and reports back a result or error, generalized from the teacher's
// internal/task.Executor handler registry.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cortexflow/orchestra/internal/task"
	"github.com/sirupsen/logrus"
)

var (
	// ErrHandlerNotFound is returned when no handler is registered for a task type.
	ErrHandlerNotFound = errors.New("executor: handler not found for task type")
	// ErrExecutorStopped is returned when Execute is called before Start or after Stop.
	ErrExecutorStopped = errors.New("executor: executor is stopped")
)

// Handler runs one task.Type's side effect.
type Handler interface {
	// Type reports the task.Type this handler drives.
	Type() task.Type
	// Validate checks a task's payload before Execute runs it.
	Validate(payload map[string]any) error
	// Execute performs the task's side effect and returns its result.
	Execute(ctx context.Context, t *task.Task) (map[string]any, error)
}

// Config bounds how long a single Execute call may run.
type Config struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// Executor dispatches a task to its registered Handler and turns
// context deadline/cancellation into the same taxonomy the orchestrator
// already understands (OnTaskFailed's error message), rather than a
// distinct timeout type of its own — the orchestrator's own deadline
// bookkeeping (task.Config.TimeoutSeconds versus StartedAt) is what the
// recovery sweeper checks; this executor-level timeout is a second,
// tighter bound on the handler call itself.
type Executor struct {
	mu       sync.RWMutex
	handlers map[task.Type]Handler
	config   Config
	started  bool
	logger   *logrus.Logger
}

// New constructs an Executor. Zero-value Config fields are filled with
// sensible defaults.
func New(config Config, logger *logrus.Logger) *Executor {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 5 * time.Minute
	}
	if config.MaxTimeout <= 0 {
		config.MaxTimeout = 30 * time.Minute
	}
	return &Executor{
		handlers: make(map[task.Type]Handler),
		config:   config,
		logger:   logger,
	}
}

// Start marks the executor ready to run handlers.
func (e *Executor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = true
}

// Stop marks the executor refusing further Execute calls.
func (e *Executor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = false
}

// RegisterHandler registers h for the task type it reports. Registering
// a second handler for the same type replaces the first.
func (e *Executor) RegisterHandler(h Handler) error {
	if h == nil {
		return errors.New("executor: handler cannot be nil")
	}
	t := h.Type()
	if t == "" {
		return errors.New("executor: handler type cannot be empty")
	}
	if !t.Implemented() {
		return fmt.Errorf("executor: %w: %s", task.ErrUnimplementedTaskType, t)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = h
	return nil
}

// GetHandler retrieves the handler registered for a task type.
func (e *Executor) GetHandler(t task.Type) (Handler, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, t)
	}
	return h, nil
}

// Execute runs t's handler, bounding it by the task's own timeout
// clamped to the executor's MaxTimeout. It returns the handler's result
// map on success, or an error describing why the attempt failed — the
// caller (a worker process) turns that into an OnTaskCompleted or
// OnTaskFailed call against the orchestrator.
func (e *Executor) Execute(ctx context.Context, t *task.Task) (map[string]any, error) {
	e.mu.RLock()
	started := e.started
	e.mu.RUnlock()
	if !started {
		return nil, ErrExecutorStopped
	}

	cfg := t.Config()
	handler, err := e.GetHandler(cfg.Type)
	if err != nil {
		return nil, err
	}

	payload := t.Payload()
	if err := handler.Validate(payload); err != nil {
		return nil, fmt.Errorf("executor: validate: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 || timeout > e.config.MaxTimeout {
		timeout = e.config.MaxTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := handler.Execute(execCtx, t)
	duration := time.Since(start)

	log := e.logger.WithFields(logrus.Fields{
		"task_id":   t.ID(),
		"task_type": string(cfg.Type),
		"duration":  duration,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.WithError(err).Warn("executor: task execution timed out")
			return nil, fmt.Errorf("executor: task execution timeout: %w", err)
		}
		log.WithError(err).Warn("executor: task execution failed")
		return nil, err
	}
	log.Debug("executor: task execution succeeded")
	return result, nil
}
