package api

import (
	"errors"

	"github.com/cortexflow/orchestra/internal/orchestrator"
	"github.com/cortexflow/orchestra/internal/task"
	"github.com/cortexflow/orchestra/internal/workflow"
	"github.com/gin-gonic/gin"
)

// statusFor maps the orchestrator's error taxonomy onto an HTTP status,
// grounded on the teacher's internal/configuration/validator.go
// ValidationErrors aggregation pattern generalized to cover every error
// type the orchestrator package defines.
func statusFor(err error) int {
	var entityNotFound *orchestrator.EntityNotFoundError
	if errors.As(err, &entityNotFound) {
		return 404
	}
	if errors.Is(err, task.ErrNotFound) || errors.Is(err, workflow.ErrNotFound) {
		return 404
	}

	var validationErrs orchestrator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return 422
	}
	var validationErr orchestrator.ValidationError
	if errors.As(err, &validationErr) {
		return 422
	}
	if errors.Is(err, orchestrator.ErrUnimplementedTaskType) || errors.Is(err, task.ErrUnimplementedTaskType) {
		return 400
	}

	var invalidState *task.InvalidEntityStateError
	if errors.As(err, &invalidState) {
		return 409
	}

	var execErr *orchestrator.WorkflowExecutionError
	if errors.As(err, &execErr) {
		return 500
	}

	return 500
}

// writeError inspects err and writes the matching status/body.
func writeError(c *gin.Context, err error) {
	ErrorJSON(c, statusFor(err), errorCodeFor(err), err.Error(), nil)
}

func errorCodeFor(err error) string {
	switch statusFor(err) {
	case 404:
		return ErrorCodeNotFound
	case 409:
		return ErrorCodeConflict
	case 422:
		return ErrorCodeValidation
	case 400:
		return ErrorCodeBadRequest
	default:
		return ErrorCodeInternalError
	}
}
