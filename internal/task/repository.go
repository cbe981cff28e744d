package task

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Repository methods when no task matches
// the requested id.
var ErrNotFound = errors.New("task: not found")

// Repository abstracts task persistence. Implementations must make
// GetReadyTasks efficient (indexed), since the orchestrator calls it on
// every scheduling pass.
type Repository interface {
	// Save persists a single task, inserting or updating it.
	Save(ctx context.Context, t *Task) error
	// SaveMany persists a batch of tasks, used by workflow creation.
	SaveMany(ctx context.Context, tasks []*Task) error
	// GetByID loads a single task by id.
	GetByID(ctx context.Context, id uuid.UUID) (*Task, error)
	// GetMany loads a batch of tasks by id, best-effort (missing ids are
	// simply absent from the result, not an error).
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*Task, error)
	// GetByWorkflow loads every task belonging to a workflow.
	GetByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*Task, error)
	// GetByStatus loads up to limit tasks across all workflows in the
	// given status.
	GetByStatus(ctx context.Context, status Status, limit int) ([]*Task, error)
	// GetReadyTasks returns the waiting tasks of a workflow whose
	// dependencies have all succeeded.
	GetReadyTasks(ctx context.Context, workflowID uuid.UUID) ([]*Task, error)
	// Delete removes a task.
	Delete(ctx context.Context, id uuid.UUID) error
	// Exists reports whether a task with the given id is stored.
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}
