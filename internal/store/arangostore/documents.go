// Package arangostore implements task.Repository and workflow.Repository
// on top of ArangoDB, grounded on the teacher's collection/index setup
// in internal/workflow/arango_repository.go and
// internal/orchestration/repository.go.
package arangostore

import (
	"time"

	"github.com/cortexflow/orchestra/internal/retry"
	"github.com/cortexflow/orchestra/internal/task"
	"github.com/cortexflow/orchestra/internal/workflow"
	"github.com/google/uuid"
)

// taskDoc is the ArangoDB document shape of a task.Task. _key is the
// task id so GetByID is a direct document read rather than a query.
type taskDoc struct {
	Key                string         `json:"_key"`
	Name               string         `json:"name"`
	Type               string         `json:"type"`
	TimeoutSeconds     int            `json:"timeoutSeconds"`
	Priority           string         `json:"priority"`
	RetryEnabled       bool           `json:"retryEnabled"`
	RetryMaxRetries    int            `json:"retryMaxRetries"`
	RetryStrategy      string         `json:"retryStrategy"`
	RetryInitialDelay  time.Duration  `json:"retryInitialDelay"`
	RetryMaxDelay      time.Duration  `json:"retryMaxDelay"`
	RetryBackoffBase   float64        `json:"retryBackoffBase"`
	IdempotencyKey     string         `json:"idempotencyKey,omitempty"`
	MaxParallel        int            `json:"maxParallelInstances"`
	Payload            map[string]any `json:"payload"`
	WorkflowID         string         `json:"workflowId"`
	Dependencies       []string       `json:"dependencies"`
	CompensationTaskID string         `json:"compensationTaskId,omitempty"`
	Status             string         `json:"status"`
	StatusUpdatedAt     time.Time     `json:"statusUpdatedAt"`
	StatusMessage       string        `json:"statusMessage,omitempty"`
	RetryCount         int            `json:"retryCount"`
	Result             map[string]any `json:"result,omitempty"`
	ErrorMessage       string         `json:"errorMessage,omitempty"`
	StartedAt          *time.Time     `json:"startedAt,omitempty"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty"`
	UpdatedAt          time.Time      `json:"updatedAt"`
	CreatedAt          time.Time      `json:"createdAt"`
}

func taskToDoc(t *task.Task) taskDoc {
	cfg := t.Config()
	deps := make([]string, len(t.Dependencies()))
	for i, d := range t.Dependencies() {
		deps[i] = d.String()
	}
	var compID string
	if c := t.CompensationTaskID(); c != nil {
		compID = c.String()
	}
	snap := t.Status()
	return taskDoc{
		Key:                t.ID().String(),
		Name:               t.Name(),
		Type:               string(cfg.Type),
		TimeoutSeconds:     cfg.TimeoutSeconds,
		Priority:           string(cfg.Priority),
		RetryEnabled:       cfg.RetryPolicy.Enabled(),
		RetryMaxRetries:    cfg.RetryPolicy.MaxRetries(),
		RetryStrategy:      string(cfg.RetryPolicy.Strategy()),
		RetryInitialDelay:  cfg.RetryPolicy.InitialDelay(),
		RetryMaxDelay:      cfg.RetryPolicy.MaxDelay(),
		RetryBackoffBase:   cfg.RetryPolicy.BackoffBase(),
		IdempotencyKey:     cfg.IdempotencyKey,
		MaxParallel:        cfg.MaxParallelInstances,
		Payload:            t.Payload(),
		WorkflowID:         t.WorkflowID().String(),
		Dependencies:       deps,
		CompensationTaskID: compID,
		Status:             string(snap.Status),
		StatusUpdatedAt:    snap.UpdatedAt,
		StatusMessage:      snap.Message,
		RetryCount:         t.RetryCount(),
		Result:             t.Result(),
		ErrorMessage:       t.Error(),
		StartedAt:          t.StartedAt(),
		CompletedAt:        t.CompletedAt(),
		UpdatedAt:          t.UpdatedAt(),
	}
}

func taskFromDoc(d taskDoc) (*task.Task, error) {
	id, err := uuid.Parse(d.Key)
	if err != nil {
		return nil, err
	}
	workflowID, err := uuid.Parse(d.WorkflowID)
	if err != nil {
		return nil, err
	}
	deps := make([]uuid.UUID, len(d.Dependencies))
	for i, ds := range d.Dependencies {
		did, err := uuid.Parse(ds)
		if err != nil {
			return nil, err
		}
		deps[i] = did
	}
	var compID *uuid.UUID
	if d.CompensationTaskID != "" {
		cid, err := uuid.Parse(d.CompensationTaskID)
		if err != nil {
			return nil, err
		}
		compID = &cid
	}
	rp, err := retry.New(d.RetryEnabled, d.RetryMaxRetries, retry.Strategy(d.RetryStrategy), d.RetryInitialDelay, d.RetryMaxDelay, d.RetryBackoffBase)
	if err != nil {
		return nil, err
	}
	cfg := task.Config{
		Type:                 task.Type(d.Type),
		TimeoutSeconds:       d.TimeoutSeconds,
		Priority:             task.Priority(d.Priority),
		RetryPolicy:          rp,
		IdempotencyKey:       d.IdempotencyKey,
		MaxParallelInstances: d.MaxParallel,
	}
	snap := task.Snapshot{
		Status:    task.Status(d.Status),
		UpdatedAt: d.StatusUpdatedAt,
		Message:   d.StatusMessage,
	}
	return task.Rehydrate(
		id, d.Name, cfg, d.Payload, workflowID, deps, compID,
		snap, d.RetryCount, d.Result, d.ErrorMessage,
		d.StartedAt, d.CompletedAt, d.UpdatedAt,
	), nil
}

// workflowDoc is the ArangoDB document shape of a workflow.Workflow.
// Its tasks are stored separately in the tasks collection, keyed by
// workflowId, and reattached on load.
type workflowDoc struct {
	Key           string         `json:"_key"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	ExecutionMode string         `json:"executionMode"`
	ParentID      string         `json:"parentId,omitempty"`
	Depth         int            `json:"depth"`
	Metadata      map[string]any `json:"metadata"`
	Status        string         `json:"status"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

func workflowToDoc(w *workflow.Workflow) workflowDoc {
	var parentID string
	if p := w.ParentWorkflowID(); p != nil {
		parentID = p.String()
	}
	return workflowDoc{
		Key:           w.ID().String(),
		Name:          w.Name(),
		Description:   w.Description(),
		ExecutionMode: string(w.ExecutionMode()),
		ParentID:      parentID,
		Depth:         w.Depth(),
		Metadata:      w.Metadata(),
		Status:        string(w.Status()),
		StartedAt:     w.StartedAt(),
		CompletedAt:   w.CompletedAt(),
		CreatedAt:     w.CreatedAt(),
	}
}

func workflowFromDoc(d workflowDoc, limits workflow.Limits, tasks []*task.Task) (*workflow.Workflow, error) {
	id, err := uuid.Parse(d.Key)
	if err != nil {
		return nil, err
	}
	var parentID *uuid.UUID
	if d.ParentID != "" {
		pid, err := uuid.Parse(d.ParentID)
		if err != nil {
			return nil, err
		}
		parentID = &pid
	}
	return workflow.Rehydrate(
		id, d.Name, d.Description, workflow.ExecutionMode(d.ExecutionMode),
		parentID, d.Depth, limits, d.Metadata, workflow.Status(d.Status),
		tasks, d.StartedAt, d.CompletedAt, d.CreatedAt,
	), nil
}
