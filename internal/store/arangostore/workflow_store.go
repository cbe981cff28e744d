package arangostore

import (
	"context"
	"fmt"

	"github.com/cortexflow/orchestra/internal/workflow"
	driver "github.com/arangodb/go-driver"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const workflowsCollection = "workflows"

// WorkflowStore implements workflow.Repository on ArangoDB. It delegates
// task persistence to a TaskStore over the shared tasks collection.
type WorkflowStore struct {
	db     driver.Database
	tasks  *TaskStore
	limits workflow.Limits
	logger *logrus.Logger
}

// NewWorkflowStore constructs a WorkflowStore, creating the workflows
// collection and its indexes if they do not already exist. limits is
// applied to every workflow rehydrated from storage (limits are an
// operator-configured property of the deployment, not per-workflow
// state).
func NewWorkflowStore(db driver.Database, tasks *TaskStore, limits workflow.Limits, logger *logrus.Logger) (*WorkflowStore, error) {
	s := &WorkflowStore{db: db, tasks: tasks, limits: limits, logger: logger}
	if err := s.ensureCollection(context.Background()); err != nil {
		return nil, fmt.Errorf("arangostore: ensure workflows collection: %w", err)
	}
	return s, nil
}

func (s *WorkflowStore) ensureCollection(ctx context.Context) error {
	exists, err := s.db.CollectionExists(ctx, workflowsCollection)
	if err != nil {
		return fmt.Errorf("check collection existence: %w", err)
	}
	var col driver.Collection
	if !exists {
		col, err = s.db.CreateCollection(ctx, workflowsCollection, nil)
		if err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		s.logger.WithField("collection", workflowsCollection).Info("arangostore: created collection")
	} else {
		col, err = s.db.Collection(ctx, workflowsCollection)
		if err != nil {
			return fmt.Errorf("open collection: %w", err)
		}
	}

	// status+createdAt: GetActive and paginated listing, newest first.
	if _, _, err := col.EnsurePersistentIndex(ctx, []string{"status", "createdAt"}, &driver.EnsurePersistentIndexOptions{
		Name: "idx_workflows_status_created_at",
	}); err != nil {
		return fmt.Errorf("create status+createdAt index: %w", err)
	}
	// parentId: GetByParent, sparse since root workflows have none.
	if _, _, err := col.EnsurePersistentIndex(ctx, []string{"parentId"}, &driver.EnsurePersistentIndexOptions{
		Name:   "idx_workflows_parent_id",
		Sparse: true,
	}); err != nil {
		return fmt.Errorf("create parentId index: %w", err)
	}
	return nil
}

func (s *WorkflowStore) collection(ctx context.Context) (driver.Collection, error) {
	return s.db.Collection(ctx, workflowsCollection)
}

// Save persists w's document and cascades to its tasks.
func (s *WorkflowStore) Save(ctx context.Context, w *workflow.Workflow) error {
	col, err := s.collection(ctx)
	if err != nil {
		return err
	}
	doc := workflowToDoc(w)
	exists, err := col.DocumentExists(ctx, doc.Key)
	if err != nil {
		return fmt.Errorf("arangostore: check workflow existence: %w", err)
	}
	if exists {
		_, err = col.ReplaceDocument(ctx, doc.Key, doc)
	} else {
		_, err = col.CreateDocument(ctx, doc)
	}
	if err != nil {
		return fmt.Errorf("arangostore: save workflow: %w", err)
	}
	return s.tasks.SaveMany(ctx, w.Tasks())
}

// GetByID loads a workflow with its tasks eagerly loaded.
func (s *WorkflowStore) GetByID(ctx context.Context, id uuid.UUID) (*workflow.Workflow, error) {
	col, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	var doc workflowDoc
	if _, err := col.ReadDocument(ctx, id.String(), &doc); err != nil {
		if driver.IsNotFound(err) {
			return nil, workflow.ErrNotFound
		}
		return nil, fmt.Errorf("arangostore: read workflow: %w", err)
	}
	tasks, err := s.tasks.GetByWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	return workflowFromDoc(doc, s.limits, tasks)
}

// GetAll returns a page of workflows, newest-created first.
func (s *WorkflowStore) GetAll(ctx context.Context, limit, offset int) ([]*workflow.Workflow, error) {
	query := `
		FOR w IN @@collection
		SORT w.createdAt DESC
		LIMIT @offset, @limit
		RETURN w
	`
	if limit <= 0 {
		limit = 10000
	}
	return s.queryWorkflows(ctx, query, map[string]any{
		"@collection": workflowsCollection,
		"offset":      offset,
		"limit":       limit,
	})
}

// Delete removes w's document and cascades to its tasks.
func (s *WorkflowStore) Delete(ctx context.Context, id uuid.UUID) error {
	existing, err := s.GetByID(ctx, id)
	if err == workflow.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	col, err := s.collection(ctx)
	if err != nil {
		return err
	}
	if _, err := col.RemoveDocument(ctx, id.String()); err != nil && !driver.IsNotFound(err) {
		return fmt.Errorf("arangostore: delete workflow: %w", err)
	}
	for _, t := range existing.Tasks() {
		if err := s.tasks.Delete(ctx, t.ID()); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether a workflow with the given id is stored.
func (s *WorkflowStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	col, err := s.collection(ctx)
	if err != nil {
		return false, err
	}
	exists, err := col.DocumentExists(ctx, id.String())
	if err != nil {
		return false, fmt.Errorf("arangostore: check workflow existence: %w", err)
	}
	return exists, nil
}

// GetActive returns every workflow whose status is running or
// compensating.
func (s *WorkflowStore) GetActive(ctx context.Context) ([]*workflow.Workflow, error) {
	query := `
		FOR w IN @@collection
		FILTER w.status IN @statuses
		RETURN w
	`
	return s.queryWorkflows(ctx, query, map[string]any{
		"@collection": workflowsCollection,
		"statuses":    []string{string(workflow.StatusRunning), string(workflow.StatusCompensating)},
	})
}

// GetByParent returns the child workflows of a nested workflow.
func (s *WorkflowStore) GetByParent(ctx context.Context, parentID uuid.UUID) ([]*workflow.Workflow, error) {
	query := `
		FOR w IN @@collection
		FILTER w.parentId == @parentId
		RETURN w
	`
	return s.queryWorkflows(ctx, query, map[string]any{
		"@collection": workflowsCollection,
		"parentId":    parentID.String(),
	})
}

func (s *WorkflowStore) queryWorkflows(ctx context.Context, query string, bindVars map[string]any) ([]*workflow.Workflow, error) {
	cursor, err := s.db.Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("arangostore: query workflows: %w", err)
	}
	defer cursor.Close()

	var out []*workflow.Workflow
	for {
		var doc workflowDoc
		_, err := cursor.ReadDocument(ctx, &doc)
		if driver.IsNoMoreDocuments(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("arangostore: read workflow document: %w", err)
		}
		id, err := uuid.Parse(doc.Key)
		if err != nil {
			return nil, err
		}
		tasks, err := s.tasks.GetByWorkflow(ctx, id)
		if err != nil {
			return nil, err
		}
		w, err := workflowFromDoc(doc, s.limits, tasks)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
