// Package memstore provides in-memory implementations of task.Repository
// and workflow.Repository, used by orchestrator tests that do not need
// ArangoDB. It is a real, lock-protected
// implementation rather than a test double, generalized from the
// teacher's sync.RWMutex-guarded mock-repository pattern.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/cortexflow/orchestra/internal/task"
	"github.com/google/uuid"
)

// TaskStore is an in-memory task.Repository.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*task.Task
}

// NewTaskStore constructs an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[uuid.UUID]*task.Task)}
}

// Save inserts or replaces a task record.
func (s *TaskStore) Save(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID()] = t
	return nil
}

// SaveMany persists every task in ts.
func (s *TaskStore) SaveMany(_ context.Context, ts []*task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range ts {
		s.tasks[t.ID()] = t
	}
	return nil
}

// GetByID returns the task matching id, or task.ErrNotFound.
func (s *TaskStore) GetByID(_ context.Context, id uuid.UUID) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return t, nil
}

// GetMany returns every task whose id is in ids, skipping ids not found.
func (s *TaskStore) GetMany(_ context.Context, ids []uuid.UUID) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetByWorkflow returns every task belonging to workflowID, ordered by id
// for determinism.
func (s *TaskStore) GetByWorkflow(_ context.Context, workflowID uuid.UUID) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.WorkflowID() == workflowID {
			out = append(out, t)
		}
	}
	sortTasksByID(out)
	return out, nil
}

// GetByStatus returns up to limit tasks in the given status, ordered by
// id. limit <= 0 means unbounded.
func (s *TaskStore) GetByStatus(_ context.Context, status task.Status, limit int) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.Status().Status == status {
			out = append(out, t)
		}
	}
	sortTasksByID(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetReadyTasks returns the waiting tasks of workflowID whose
// dependencies have all succeeded — the indexed query the orchestrator
// uses instead of recomputing readiness from the in-memory aggregate on
// every event.
func (s *TaskStore) GetReadyTasks(_ context.Context, workflowID uuid.UUID) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	succeeded := make(map[uuid.UUID]bool)
	var inWorkflow []*task.Task
	for _, t := range s.tasks {
		if t.WorkflowID() != workflowID {
			continue
		}
		inWorkflow = append(inWorkflow, t)
		if t.Status().Status == task.StatusSucceeded {
			succeeded[t.ID()] = true
		}
	}
	var out []*task.Task
	for _, t := range inWorkflow {
		if t.Status().IsWaiting() && t.IsReadyToExecute(succeeded) {
			out = append(out, t)
		}
	}
	sortTasksByID(out)
	return out, nil
}

// Delete removes a task record.
func (s *TaskStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

// Exists reports whether a task with id is stored.
func (s *TaskStore) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[id]
	return ok, nil
}

func sortTasksByID(ts []*task.Task) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].ID().String() < ts[j].ID().String() })
}
