package orchestrator

import (
	"errors"
	"fmt"
)

// EntityNotFoundError is returned when an operation names a workflow or
// task id that does not exist in the store.
type EntityNotFoundError struct {
	Kind string // "workflow" or "task"
	ID   string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("orchestrator: %s %s not found", e.Kind, e.ID)
}

// WorkflowExecutionError wraps an unexpected failure encountered while
// processing an orchestrator operation, distinguishing it from the
// state-machine guard errors the entities themselves return (which are
// either surfaced directly or silently swallowed as convergence events,
// per the duplicate-delivery policy).
type WorkflowExecutionError struct {
	Op  string
	Err error
}

func (e *WorkflowExecutionError) Error() string {
	return fmt.Sprintf("orchestrator: %s failed: %v", e.Op, e.Err)
}

func (e *WorkflowExecutionError) Unwrap() error { return e.Err }

// ValidationError is one field-level problem found while validating a
// CreateWorkflow request. ValidationErrors collects them, in the shape
// of the teacher's internal/configuration validator: a list of
// field-level messages joined into one error for the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a non-empty slice of ValidationError.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	msg := e[0].Error()
	for _, ve := range e[1:] {
		msg += "; " + ve.Error()
	}
	return msg
}

// ErrUnimplementedTaskType names the reserved-but-unimplemented task
// types (human, subworkflow). CreateWorkflowUseCase does not return it:
// it reports such a type as a ValidationError on the task's type field.
var ErrUnimplementedTaskType = errors.New("orchestrator: task type is reserved and not yet implemented")
