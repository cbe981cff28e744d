package api

import (
	"time"

	"github.com/cortexflow/orchestra/internal/task"
	"github.com/cortexflow/orchestra/internal/workflow"
	"github.com/google/uuid"
)

// workflowDTO is the wire shape of a workflow.Workflow, built from its
// accessors rather than marshaling the entity directly since Workflow
// carries no JSON tags of its own.
type workflowDTO struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	ExecutionMode string         `json:"executionMode"`
	Status        string         `json:"status"`
	Depth         int            `json:"depth"`
	ParentID      *uuid.UUID     `json:"parentId,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Progress      float64        `json:"progress"`
	Tasks         []taskDTO      `json:"tasks"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

func newWorkflowDTO(w *workflow.Workflow) workflowDTO {
	tasks := w.Tasks()
	taskDTOs := make([]taskDTO, len(tasks))
	for i, t := range tasks {
		taskDTOs[i] = newTaskDTO(t)
	}
	return workflowDTO{
		ID:            w.ID(),
		Name:          w.Name(),
		Description:   w.Description(),
		ExecutionMode: string(w.ExecutionMode()),
		Status:        string(w.Status()),
		Depth:         w.Depth(),
		ParentID:      w.ParentWorkflowID(),
		Metadata:      w.Metadata(),
		Progress:      w.GetProgress(),
		Tasks:         taskDTOs,
		StartedAt:     w.StartedAt(),
		CompletedAt:   w.CompletedAt(),
		CreatedAt:     w.CreatedAt(),
	}
}

// taskDTO is the wire shape of a task.Task.
type taskDTO struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Status       string         `json:"status"`
	Priority     string         `json:"priority"`
	Dependencies []uuid.UUID    `json:"dependencies,omitempty"`
	RetryCount   int            `json:"retryCount"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

func newTaskDTO(t *task.Task) taskDTO {
	cfg := t.Config()
	return taskDTO{
		ID:           t.ID(),
		Name:         t.Name(),
		Type:         string(cfg.Type),
		Status:       string(t.Status().Status),
		Priority:     string(cfg.Priority),
		Dependencies: t.Dependencies(),
		RetryCount:   t.RetryCount(),
		Result:       t.Result(),
		Error:        t.Error(),
		StartedAt:    t.StartedAt(),
		CompletedAt:  t.CompletedAt(),
		UpdatedAt:    t.UpdatedAt(),
	}
}
