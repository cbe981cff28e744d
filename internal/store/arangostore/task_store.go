package arangostore

import (
	"context"
	"fmt"

	"github.com/cortexflow/orchestra/internal/task"
	driver "github.com/arangodb/go-driver"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const tasksCollection = "tasks"

// TaskStore implements task.Repository on ArangoDB.
type TaskStore struct {
	db     driver.Database
	logger *logrus.Logger
}

// NewTaskStore constructs a TaskStore, creating the tasks collection and
// its indexes if they do not already exist.
func NewTaskStore(db driver.Database, logger *logrus.Logger) (*TaskStore, error) {
	s := &TaskStore{db: db, logger: logger}
	if err := s.ensureCollection(context.Background()); err != nil {
		return nil, fmt.Errorf("arangostore: ensure tasks collection: %w", err)
	}
	return s, nil
}

func (s *TaskStore) ensureCollection(ctx context.Context) error {
	exists, err := s.db.CollectionExists(ctx, tasksCollection)
	if err != nil {
		return fmt.Errorf("check collection existence: %w", err)
	}
	var col driver.Collection
	if !exists {
		col, err = s.db.CreateCollection(ctx, tasksCollection, nil)
		if err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		s.logger.WithField("collection", tasksCollection).Info("arangostore: created collection")
	} else {
		col, err = s.db.Collection(ctx, tasksCollection)
		if err != nil {
			return fmt.Errorf("open collection: %w", err)
		}
	}

	// workflowId+status: the orchestrator's hot path, GetReadyTasks and
	// GetByWorkflow both filter on workflowId and (for ready tasks) status.
	if _, _, err := col.EnsurePersistentIndex(ctx, []string{"workflowId", "status"}, &driver.EnsurePersistentIndexOptions{
		Name: "idx_tasks_workflow_status",
	}); err != nil {
		return fmt.Errorf("create workflowId+status index: %w", err)
	}
	// status: GetByStatus's filter.
	if _, _, err := col.EnsurePersistentIndex(ctx, []string{"status"}, &driver.EnsurePersistentIndexOptions{
		Name: "idx_tasks_status",
	}); err != nil {
		return fmt.Errorf("create status index: %w", err)
	}
	// idempotencyKey: unique, sparse so tasks without one don't collide.
	if _, _, err := col.EnsurePersistentIndex(ctx, []string{"idempotencyKey"}, &driver.EnsurePersistentIndexOptions{
		Name:   "idx_tasks_idempotency_key",
		Unique: true,
		Sparse: true,
	}); err != nil {
		return fmt.Errorf("create idempotencyKey index: %w", err)
	}
	return nil
}

func (s *TaskStore) collection(ctx context.Context) (driver.Collection, error) {
	return s.db.Collection(ctx, tasksCollection)
}

// Save inserts or replaces a task document.
func (s *TaskStore) Save(ctx context.Context, t *task.Task) error {
	col, err := s.collection(ctx)
	if err != nil {
		return err
	}
	doc := taskToDoc(t)
	exists, err := col.DocumentExists(ctx, doc.Key)
	if err != nil {
		return fmt.Errorf("arangostore: check task existence: %w", err)
	}
	if exists {
		_, err = col.ReplaceDocument(ctx, doc.Key, doc)
	} else {
		_, err = col.CreateDocument(ctx, doc)
	}
	if err != nil {
		return fmt.Errorf("arangostore: save task: %w", err)
	}
	return nil
}

// SaveMany persists every task in ts.
func (s *TaskStore) SaveMany(ctx context.Context, ts []*task.Task) error {
	for _, t := range ts {
		if err := s.Save(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// GetByID loads a single task by id.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	col, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	var doc taskDoc
	if _, err := col.ReadDocument(ctx, id.String(), &doc); err != nil {
		if driver.IsNotFound(err) {
			return nil, task.ErrNotFound
		}
		return nil, fmt.Errorf("arangostore: read task: %w", err)
	}
	return taskFromDoc(doc)
}

// GetMany loads a batch of tasks by id.
func (s *TaskStore) GetMany(ctx context.Context, ids []uuid.UUID) ([]*task.Task, error) {
	out := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetByID(ctx, id)
		if err == task.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// GetByWorkflow loads every task belonging to a workflow.
func (s *TaskStore) GetByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*task.Task, error) {
	query := `
		FOR t IN @@collection
		FILTER t.workflowId == @workflowId
		RETURN t
	`
	return s.queryTasks(ctx, query, map[string]any{
		"@collection": tasksCollection,
		"workflowId":  workflowID.String(),
	})
}

// GetByStatus loads up to limit tasks in the given status across all
// workflows.
func (s *TaskStore) GetByStatus(ctx context.Context, status task.Status, limit int) ([]*task.Task, error) {
	query := `
		FOR t IN @@collection
		FILTER t.status == @status
		LIMIT @limit
		RETURN t
	`
	if limit <= 0 {
		limit = 10000
	}
	return s.queryTasks(ctx, query, map[string]any{
		"@collection": tasksCollection,
		"status":      string(status),
		"limit":       limit,
	})
}

// GetReadyTasks returns the waiting tasks of workflowID whose
// dependencies have all succeeded. The succeeded-id lookup happens in
// Go rather than AQL, mirroring Workflow.GetReadyTasks' logic so both
// layers agree on the exact readiness rule.
func (s *TaskStore) GetReadyTasks(ctx context.Context, workflowID uuid.UUID) ([]*task.Task, error) {
	all, err := s.GetByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	succeeded := make(map[uuid.UUID]bool, len(all))
	for _, t := range all {
		if t.Status().Status == task.StatusSucceeded {
			succeeded[t.ID()] = true
		}
	}
	var out []*task.Task
	for _, t := range all {
		if t.Status().IsWaiting() && t.IsReadyToExecute(succeeded) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Delete removes a task document.
func (s *TaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	col, err := s.collection(ctx)
	if err != nil {
		return err
	}
	if _, err := col.RemoveDocument(ctx, id.String()); err != nil && !driver.IsNotFound(err) {
		return fmt.Errorf("arangostore: delete task: %w", err)
	}
	return nil
}

// Exists reports whether a task with the given id is stored.
func (s *TaskStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	col, err := s.collection(ctx)
	if err != nil {
		return false, err
	}
	exists, err := col.DocumentExists(ctx, id.String())
	if err != nil {
		return false, fmt.Errorf("arangostore: check task existence: %w", err)
	}
	return exists, nil
}

func (s *TaskStore) queryTasks(ctx context.Context, query string, bindVars map[string]any) ([]*task.Task, error) {
	cursor, err := s.db.Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("arangostore: query tasks: %w", err)
	}
	defer cursor.Close()

	var out []*task.Task
	for {
		var doc taskDoc
		_, err := cursor.ReadDocument(ctx, &doc)
		if driver.IsNoMoreDocuments(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("arangostore: read task document: %w", err)
		}
		t, err := taskFromDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
