package workflow

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Repository methods when no workflow
// matches the requested id.
var ErrNotFound = errors.New("workflow: not found")

// Repository abstracts workflow persistence. Save persists the workflow
// together with all of its tasks; the implementations in internal/store
// write the workflow record and each task record separately, not in one
// transaction, so a failure partway through is not rolled back.
type Repository interface {
	// Save persists a workflow and its tasks, inserting or updating them.
	Save(ctx context.Context, w *Workflow) error
	// GetByID loads a workflow with its tasks eagerly loaded.
	GetByID(ctx context.Context, id uuid.UUID) (*Workflow, error)
	// GetAll returns a page of workflows, newest-created first.
	GetAll(ctx context.Context, limit, offset int) ([]*Workflow, error)
	// Delete removes a workflow and cascades to its tasks.
	Delete(ctx context.Context, id uuid.UUID) error
	// Exists reports whether a workflow with the given id is stored.
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	// GetActive returns every workflow whose status is active (running
	// or compensating).
	GetActive(ctx context.Context) ([]*Workflow, error)
	// GetByParent returns the child workflows of a nested workflow.
	GetByParent(ctx context.Context, parentID uuid.UUID) ([]*Workflow, error)
}
