package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/cortexflow/orchestra/internal/workflow"
	"github.com/google/uuid"
)

// WorkflowStore is an in-memory workflow.Repository. It delegates task
// persistence to a TaskStore so the two repositories share one
// consistent view of task state, the way a real store's two collections
// would.
type WorkflowStore struct {
	mu        sync.RWMutex
	workflows map[uuid.UUID]*workflow.Workflow
	createdAt map[uuid.UUID]int64 // insertion sequence, for GetAll ordering
	seq       int64
	tasks     *TaskStore
}

// NewWorkflowStore constructs an empty WorkflowStore backed by tasks for
// task persistence.
func NewWorkflowStore(tasks *TaskStore) *WorkflowStore {
	return &WorkflowStore{
		workflows: make(map[uuid.UUID]*workflow.Workflow),
		createdAt: make(map[uuid.UUID]int64),
		tasks:     tasks,
	}
}

// Save persists w and every task it holds.
func (s *WorkflowStore) Save(ctx context.Context, w *workflow.Workflow) error {
	s.mu.Lock()
	if _, ok := s.workflows[w.ID()]; !ok {
		s.seq++
		s.createdAt[w.ID()] = s.seq
	}
	s.workflows[w.ID()] = w
	s.mu.Unlock()
	return s.tasks.SaveMany(ctx, w.Tasks())
}

// GetByID returns the workflow matching id, with its tasks already
// attached, or workflow.ErrNotFound.
func (s *WorkflowStore) GetByID(_ context.Context, id uuid.UUID) (*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	return w, nil
}

// GetAll returns a page of workflows ordered newest-created first.
func (s *WorkflowStore) GetAll(_ context.Context, limit, offset int) ([]*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*workflow.Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		all = append(all, w)
	}
	sort.Slice(all, func(i, j int) bool {
		return s.createdAt[all[i].ID()] > s.createdAt[all[j].ID()]
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Delete removes w and every task belonging to it.
func (s *WorkflowStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	w, ok := s.workflows[id]
	delete(s.workflows, id)
	delete(s.createdAt, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	for _, t := range w.Tasks() {
		if err := s.tasks.Delete(ctx, t.ID()); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether a workflow with id is stored.
func (s *WorkflowStore) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.workflows[id]
	return ok, nil
}

// GetActive returns every workflow whose status is active (running or
// compensating).
func (s *WorkflowStore) GetActive(_ context.Context) ([]*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.Workflow
	for _, w := range s.workflows {
		if w.Status().IsActive() {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID().String() < out[j].ID().String() })
	return out, nil
}

// GetByParent returns the child workflows of parentID.
func (s *WorkflowStore) GetByParent(_ context.Context, parentID uuid.UUID) ([]*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.Workflow
	for _, w := range s.workflows {
		if p := w.ParentWorkflowID(); p != nil && *p == parentID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID().String() < out[j].ID().String() })
	return out, nil
}
