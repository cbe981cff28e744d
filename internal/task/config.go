package task

import (
	"errors"

	"github.com/cortexflow/orchestra/internal/retry"
)

// Type identifies what kind of side effect executing a task performs.
type Type string

const (
	TypeHTTP        Type = "http"
	TypeShell        Type = "shell"
	TypeSQL          Type = "sql"
	TypeWebhook      Type = "webhook"
	TypeHuman        Type = "human"
	TypeSubworkflow  Type = "subworkflow"
)

// unimplementedTypes are reserved in the enum but rejected at creation
// time until their orchestration semantics are specified.
var unimplementedTypes = map[Type]bool{
	TypeHuman:       true,
	TypeSubworkflow: true,
}

// Implemented reports whether the orchestrator currently knows how to
// drive a task of this type end to end.
func (t Type) Implemented() bool { return !unimplementedTypes[t] }

func (t Type) valid() bool {
	switch t {
	case TypeHTTP, TypeShell, TypeSQL, TypeWebhook, TypeHuman, TypeSubworkflow:
		return true
	default:
		return false
	}
}

// Priority is the caller-facing urgency level; it is translated to the
// work queue's 0..9 integer priority at publish time.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// QueuePriority maps the caller-facing level to the 0..9 scale the work
// queue's publish operation expects.
func (p Priority) QueuePriority() int {
	switch p {
	case PriorityCritical:
		return 9
	case PriorityHigh:
		return 6
	case PriorityLow:
		return 0
	default:
		return 3
	}
}

var (
	// ErrInvalidTaskType is returned when Type is not one of the known values.
	ErrInvalidTaskType = errors.New("task: invalid task type")
	// ErrUnimplementedTaskType is returned when Type is reserved but not yet orchestrated.
	ErrUnimplementedTaskType = errors.New("task: task type is reserved and not yet implemented")
	// ErrInvalidPriority is returned when Priority is not one of the known values.
	ErrInvalidPriority = errors.New("task: invalid priority")
	// ErrNonPositiveTimeout is returned when TimeoutSeconds is <= 0.
	ErrNonPositiveTimeout = errors.New("task: timeout must be > 0")
	// ErrInvalidParallelInstances is returned when MaxParallelInstances < 1.
	ErrInvalidParallelInstances = errors.New("task: max parallel instances must be >= 1")
)

// Config is the immutable configuration portion of a Task: everything
// fixed at creation time that governs how the task is scheduled and
// executed.
type Config struct {
	Type                 Type
	TimeoutSeconds       int
	Priority             Priority
	RetryPolicy          retry.Policy
	IdempotencyKey       string
	MaxParallelInstances int
}

// IsIdempotent reports whether the config carries a caller-provided
// idempotency key, allowing the executor to safely deduplicate attempts.
func (c Config) IsIdempotent() bool { return c.IdempotencyKey != "" }

// Validate checks Config's invariants. It does not check Implemented —
// callers that want to reject reserved task types check that
// separately: CreateWorkflowUseCase reports it as a validation error on
// the task's type field, and Executor.RegisterHandler returns
// ErrUnimplementedTaskType.
func (c Config) Validate() error {
	if !c.Type.valid() {
		return ErrInvalidTaskType
	}
	if c.TimeoutSeconds <= 0 {
		return ErrNonPositiveTimeout
	}
	if !c.Priority.valid() {
		return ErrInvalidPriority
	}
	if c.MaxParallelInstances < 1 {
		return ErrInvalidParallelInstances
	}
	return nil
}
