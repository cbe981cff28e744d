package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InvalidEntityStateError is returned by a lifecycle operation invoked
// from a status that does not permit it.
type InvalidEntityStateError struct {
	Op   string
	From Status
}

func (e *InvalidEntityStateError) Error() string {
	return fmt.Sprintf("task: cannot %s task in %s state", e.Op, e.From)
}

// MaxRetryExceededError is returned by Retry when the retry budget is
// already exhausted.
type MaxRetryExceededError struct {
	MaxRetries int
}

func (e *MaxRetryExceededError) Error() string {
	return fmt.Sprintf("task: max retries (%d) exceeded", e.MaxRetries)
}

// ErrNilResult is returned by Complete when called with a nil result map.
var ErrNilResult = errors.New("task: result must not be nil")

// Task is a single unit of work belonging to exactly one Workflow. Its
// identity and configuration are fixed at construction; only its
// execution state (status, retry counter, result, error, timestamps)
// mutates, and only through the methods below.
type Task struct {
	id                  uuid.UUID
	name                string
	config              Config
	payload             map[string]any
	workflowID          uuid.UUID
	dependencies        []uuid.UUID
	compensationTaskID  *uuid.UUID

	status      Snapshot
	retryCount  int
	result      map[string]any
	errMessage  string
	startedAt   *time.Time
	completedAt *time.Time
	updatedAt   time.Time
}

// New constructs a Task in the pending state, generating its id.
// dependencies and payload are copied so the caller's slices/maps
// cannot be mutated afterward.
func New(name string, config Config, payload map[string]any, workflowID uuid.UUID, dependencies []uuid.UUID, compensationTaskID *uuid.UUID) (*Task, error) {
	return NewWithID(uuid.New(), name, config, payload, workflowID, dependencies, compensationTaskID)
}

// NewWithID constructs a Task in the pending state with a caller-supplied
// id. It exists for callers that must know a task's id before it is
// constructed, such as CreateWorkflowUseCase resolving dependencies
// declared by name across a batch of task specs.
func NewWithID(id uuid.UUID, name string, config Config, payload map[string]any, workflowID uuid.UUID, dependencies []uuid.UUID, compensationTaskID *uuid.UUID) (*Task, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	deps := make([]uuid.UUID, len(dependencies))
	copy(deps, dependencies)
	pl := make(map[string]any, len(payload))
	for k, v := range payload {
		pl[k] = v
	}
	now := time.Now().UTC()
	return &Task{
		id:                 id,
		name:               name,
		config:             config,
		payload:            pl,
		workflowID:         workflowID,
		dependencies:       deps,
		compensationTaskID: compensationTaskID,
		status: Snapshot{
			Status:    StatusPending,
			UpdatedAt: now,
		},
		updatedAt: now,
	}, nil
}

// ID returns the task's stable identifier.
func (t *Task) ID() uuid.UUID { return t.id }

// Name returns the task's human-readable name.
func (t *Task) Name() string { return t.name }

// Config returns the task's immutable configuration.
func (t *Task) Config() Config { return t.config }

// Payload returns a copy of the task's input payload.
func (t *Task) Payload() map[string]any {
	out := make(map[string]any, len(t.payload))
	for k, v := range t.payload {
		out[k] = v
	}
	return out
}

// WorkflowID returns the id of the Workflow that owns this task.
func (t *Task) WorkflowID() uuid.UUID { return t.workflowID }

// Dependencies returns a copy of the set of task ids this task depends on.
func (t *Task) Dependencies() []uuid.UUID {
	out := make([]uuid.UUID, len(t.dependencies))
	copy(out, t.dependencies)
	return out
}

// CompensationTaskID returns the id of the compensation task, if any.
func (t *Task) CompensationTaskID() *uuid.UUID { return t.compensationTaskID }

// Status returns the current status snapshot.
func (t *Task) Status() Snapshot { return t.status }

// RetryCount returns the number of retry attempts made so far.
func (t *Task) RetryCount() int { return t.retryCount }

// Result returns a copy of the task's result, or nil if not yet set.
func (t *Task) Result() map[string]any {
	if t.result == nil {
		return nil
	}
	out := make(map[string]any, len(t.result))
	for k, v := range t.result {
		out[k] = v
	}
	return out
}

// Error returns the last recorded error message, if any.
func (t *Task) Error() string { return t.errMessage }

// StartedAt returns the time the task last started running, if any.
func (t *Task) StartedAt() *time.Time { return t.startedAt }

// CompletedAt returns the time the task reached a terminal status, if any.
func (t *Task) CompletedAt() *time.Time { return t.completedAt }

// UpdatedAt returns the time of the task's last transition.
func (t *Task) UpdatedAt() time.Time { return t.updatedAt }

// HasDependencies reports whether the task has any declared dependencies.
func (t *Task) HasDependencies() bool { return len(t.dependencies) > 0 }

// IsReadyToExecute reports whether every dependency id is a member of
// succeeded. Per the orchestrator's stricter policy, a dependency that
// terminated as failed, cancelled, or skipped does not count.
func (t *Task) IsReadyToExecute(succeeded map[uuid.UUID]bool) bool {
	if !t.HasDependencies() {
		return true
	}
	for _, dep := range t.dependencies {
		if !succeeded[dep] {
			return false
		}
	}
	return true
}

// GetExecutionDuration returns the elapsed time between StartedAt and
// CompletedAt, or nil if either is unset.
func (t *Task) GetExecutionDuration() *time.Duration {
	if t.startedAt == nil || t.completedAt == nil {
		return nil
	}
	d := t.completedAt.Sub(*t.startedAt)
	return &d
}

func (t *Task) markUpdated() {
	t.updatedAt = time.Now().UTC()
}

// Queue transitions pending -> queued.
func (t *Task) Queue() error {
	if t.status.Status != StatusPending {
		return &InvalidEntityStateError{Op: "queue", From: t.status.Status}
	}
	t.status = Snapshot{Status: StatusQueued, UpdatedAt: time.Now().UTC()}
	t.markUpdated()
	return nil
}

// Requeue transitions retrying -> queued. It exists alongside Queue
// because a task that failed with retries remaining never passes back
// through pending; the orchestrator calls Requeue once it has scheduled
// the backoff delay for the next attempt.
func (t *Task) Requeue() error {
	if t.status.Status != StatusRetrying {
		return &InvalidEntityStateError{Op: "requeue", From: t.status.Status}
	}
	t.status = Snapshot{Status: StatusQueued, UpdatedAt: time.Now().UTC(), Message: "requeued for retry"}
	t.markUpdated()
	return nil
}

// Start transitions pending/queued -> running, recording StartedAt.
func (t *Task) Start() error {
	if !t.status.IsWaiting() {
		return &InvalidEntityStateError{Op: "start", From: t.status.Status}
	}
	now := time.Now().UTC()
	t.status = Snapshot{Status: StatusRunning, UpdatedAt: now}
	t.startedAt = &now
	t.markUpdated()
	return nil
}

// Complete transitions running/retrying -> succeeded, recording the
// result and CompletedAt.
func (t *Task) Complete(result map[string]any) error {
	if !t.status.IsActive() {
		return &InvalidEntityStateError{Op: "complete", From: t.status.Status}
	}
	if result == nil {
		return ErrNilResult
	}
	now := time.Now().UTC()
	t.status = Snapshot{Status: StatusSucceeded, UpdatedAt: now, Message: "task completed successfully"}
	cp := make(map[string]any, len(result))
	for k, v := range result {
		cp[k] = v
	}
	t.result = cp
	t.completedAt = &now
	t.markUpdated()
	return nil
}

// Fail transitions running/retrying on failure. If the retry policy
// still has budget it moves to retrying and increments the retry
// counter; otherwise it moves to failed and records CompletedAt.
func (t *Task) Fail(errMsg string) error {
	if !t.status.IsActive() {
		return &InvalidEntityStateError{Op: "fail", From: t.status.Status}
	}
	t.errMessage = errMsg
	now := time.Now().UTC()
	if t.canRetry() {
		t.retryCount++
		t.status = Snapshot{
			Status:    StatusRetrying,
			UpdatedAt: now,
			Message:   fmt.Sprintf("retry %d/%d", t.retryCount, t.config.RetryPolicy.MaxRetries()),
		}
	} else {
		t.status = Snapshot{Status: StatusFailed, UpdatedAt: now, Message: errMsg}
		t.completedAt = &now
	}
	t.markUpdated()
	return nil
}

// Retry explicitly re-attempts a failed or timed-out task, transitioning
// it back to running. It fails with MaxRetryExceededError if the retry
// budget has already been spent.
func (t *Task) Retry() error {
	if !t.status.CanRetry() {
		return &InvalidEntityStateError{Op: "retry", From: t.status.Status}
	}
	if !t.canRetry() {
		return &MaxRetryExceededError{MaxRetries: t.config.RetryPolicy.MaxRetries()}
	}
	t.retryCount++
	now := time.Now().UTC()
	t.status = Snapshot{Status: StatusRunning, UpdatedAt: now, Message: fmt.Sprintf("retry attempt %d", t.retryCount)}
	t.startedAt = &now
	t.markUpdated()
	return nil
}

// Cancel transitions any non-terminal task to cancelled.
func (t *Task) Cancel() error {
	if t.status.IsTerminal() {
		return &InvalidEntityStateError{Op: "cancel", From: t.status.Status}
	}
	now := time.Now().UTC()
	t.status = Snapshot{Status: StatusCancelled, UpdatedAt: now, Message: "task cancelled"}
	t.completedAt = &now
	t.markUpdated()
	return nil
}

// Skip transitions the task, from any status, to skipped, optionally
// recording a mock result for dependent tasks to consume.
func (t *Task) Skip(mockResult map[string]any) {
	now := time.Now().UTC()
	t.status = Snapshot{Status: StatusSkipped, UpdatedAt: now, Message: "task skipped"}
	if mockResult == nil {
		mockResult = map[string]any{}
	}
	cp := make(map[string]any, len(mockResult))
	for k, v := range mockResult {
		cp[k] = v
	}
	t.result = cp
	t.completedAt = &now
	t.markUpdated()
}

// Timeout transitions running/retrying -> timeout.
func (t *Task) Timeout() error {
	if !t.status.IsActive() {
		return &InvalidEntityStateError{Op: "timeout", From: t.status.Status}
	}
	now := time.Now().UTC()
	t.status = Snapshot{
		Status:    StatusTimeout,
		UpdatedAt: now,
		Message:   fmt.Sprintf("task exceeded timeout of %ds", t.config.TimeoutSeconds),
	}
	t.errMessage = "task execution timeout"
	t.completedAt = &now
	t.markUpdated()
	return nil
}

func (t *Task) canRetry() bool {
	return t.config.RetryPolicy.Enabled() && t.retryCount < t.config.RetryPolicy.MaxRetries()
}

func (t *Task) String() string {
	return fmt.Sprintf("Task(id=%s, name=%s, status=%s, retry=%d)", t.id, t.name, t.status.Status, t.retryCount)
}

// Rehydrate reconstructs a Task from persisted fields. It is used
// exclusively by repository implementations loading a record back from
// storage and bypasses the New constructor's generated id and initial
// status, since both are already fixed by the stored record.
func Rehydrate(
	id uuid.UUID,
	name string,
	config Config,
	payload map[string]any,
	workflowID uuid.UUID,
	dependencies []uuid.UUID,
	compensationTaskID *uuid.UUID,
	status Snapshot,
	retryCount int,
	result map[string]any,
	errMessage string,
	startedAt, completedAt *time.Time,
	updatedAt time.Time,
) *Task {
	return &Task{
		id:                 id,
		name:               name,
		config:             config,
		payload:            payload,
		workflowID:         workflowID,
		dependencies:       dependencies,
		compensationTaskID: compensationTaskID,
		status:             status,
		retryCount:         retryCount,
		result:             result,
		errMessage:         errMessage,
		startedAt:          startedAt,
		completedAt:        completedAt,
		updatedAt:          updatedAt,
	}
}
