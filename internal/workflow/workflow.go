// Package workflow implements the Workflow aggregate: a named DAG of
// tasks whose topology is fixed once the workflow leaves the draft
// status, plus the graph queries the orchestrator needs to schedule
// work (ready tasks, root tasks, progress).
package workflow

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cortexflow/orchestra/internal/task"
	"github.com/google/uuid"
)

// Limits bounds the shape of a workflow. The defaults match the
// platform's documented MAX_WORKFLOW_DEPTH and MAX_TASKS_PER_WORKFLOW.
type Limits struct {
	MaxDepth int
	MaxTasks int
}

// DefaultLimits returns the platform defaults: depth 10, 1000 tasks.
func DefaultLimits() Limits {
	return Limits{MaxDepth: 10, MaxTasks: 1000}
}

// InvalidEntityStateError is returned by a lifecycle operation invoked
// from a status that does not permit it.
type InvalidEntityStateError struct {
	Op   string
	From Status
}

func (e *InvalidEntityStateError) Error() string {
	return fmt.Sprintf("workflow: cannot %s workflow in %s state", e.Op, e.From)
}

// CircularDependencyError is returned by AddTask when inserting the task
// would introduce a cycle in the dependency graph.
type CircularDependencyError struct {
	TaskID uuid.UUID
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("workflow: adding task %s creates a circular dependency", e.TaskID)
}

// DepthExceededError is returned by New when the parent chain would
// exceed the configured maximum nesting depth.
type DepthExceededError struct {
	MaxDepth int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("workflow: nesting depth exceeds maximum of %d", e.MaxDepth)
}

// SizeExceededError is returned by AddTask when the workflow already
// holds the maximum number of tasks.
type SizeExceededError struct {
	MaxTasks int
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("workflow: task count exceeds maximum of %d", e.MaxTasks)
}

var (
	// ErrTaskWrongWorkflow is returned by AddTask when the task's
	// WorkflowID does not match this workflow's id.
	ErrTaskWrongWorkflow = errors.New("workflow: task does not belong to this workflow")
	// ErrUnknownDependency is returned by AddTask when a declared
	// dependency is not (yet) a member of the workflow.
	ErrUnknownDependency = errors.New("workflow: unknown dependency")
	// ErrTaskNotFound is returned by RemoveTask/GetTask/GetDependentTasks
	// for an id that is not a member of the workflow.
	ErrTaskNotFound = errors.New("workflow: task not found")
	// ErrEmptyWorkflow is returned by Start when the workflow has no tasks.
	ErrEmptyWorkflow = errors.New("workflow: cannot start an empty workflow")
)

// Workflow is the aggregate root owning a set of Tasks and the
// dependency graph between them. Topology (which tasks exist, and their
// dependency edges) may only change while status is draft; execution
// state transitions only through the methods below.
type Workflow struct {
	id             uuid.UUID
	name           string
	description    string
	executionMode  ExecutionMode
	parentID       *uuid.UUID
	depth          int
	limits         Limits
	metadata       map[string]any

	status      Status
	tasks       map[uuid.UUID]*task.Task
	order       []uuid.UUID // insertion order, for deterministic iteration
	graph       *dependencyGraph

	startedAt   *time.Time
	completedAt *time.Time
	createdAt   time.Time
}

// New constructs a draft Workflow. parentDepth is the nesting depth of
// parentID (0 if there is no parent); the caller is responsible for
// looking that up from the repository before calling New.
func New(name, description string, mode ExecutionMode, parentID *uuid.UUID, parentDepth int, metadata map[string]any, limits Limits) (*Workflow, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("workflow: invalid execution mode %q", mode)
	}
	depth := 0
	if parentID != nil {
		depth = parentDepth + 1
	}
	if depth > limits.MaxDepth {
		return nil, &DepthExceededError{MaxDepth: limits.MaxDepth}
	}
	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &Workflow{
		id:            uuid.New(),
		name:          name,
		description:   description,
		executionMode: mode,
		parentID:      parentID,
		depth:         depth,
		limits:        limits,
		metadata:      md,
		status:        StatusDraft,
		tasks:         make(map[uuid.UUID]*task.Task),
		graph:         newDependencyGraph(),
		createdAt:     time.Now().UTC(),
	}, nil
}

// ID returns the workflow's stable identifier.
func (w *Workflow) ID() uuid.UUID { return w.id }

// Name returns the workflow's name.
func (w *Workflow) Name() string { return w.name }

// Description returns the workflow's description.
func (w *Workflow) Description() string { return w.description }

// ExecutionMode returns the workflow's execution mode.
func (w *Workflow) ExecutionMode() ExecutionMode { return w.executionMode }

// ParentWorkflowID returns the parent workflow's id, if this workflow is nested.
func (w *Workflow) ParentWorkflowID() *uuid.UUID { return w.parentID }

// Depth returns the workflow's nesting depth (0 for a root workflow).
func (w *Workflow) Depth() int { return w.depth }

// Metadata returns a copy of the workflow's metadata.
func (w *Workflow) Metadata() map[string]any {
	out := make(map[string]any, len(w.metadata))
	for k, v := range w.metadata {
		out[k] = v
	}
	return out
}

// Status returns the workflow's current status.
func (w *Workflow) Status() Status { return w.status }

// StartedAt returns the time the workflow started running, if any.
func (w *Workflow) StartedAt() *time.Time { return w.startedAt }

// CompletedAt returns the time the workflow reached a terminal status, if any.
func (w *Workflow) CompletedAt() *time.Time { return w.completedAt }

// CreatedAt returns the time the workflow was constructed.
func (w *Workflow) CreatedAt() time.Time { return w.createdAt }

// TaskCount returns the number of tasks in the workflow.
func (w *Workflow) TaskCount() int { return len(w.tasks) }

// Tasks returns the workflow's tasks in insertion order.
func (w *Workflow) Tasks() []*task.Task {
	out := make([]*task.Task, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.tasks[id])
	}
	return out
}

// GetTask returns the task with the given id.
func (w *Workflow) GetTask(id uuid.UUID) (*task.Task, error) {
	t, ok := w.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

// AddTask inserts t into the workflow. Legal only while status is draft;
// every dependency of t must already be a member of the workflow, and
// the insertion must not create a cycle.
func (w *Workflow) AddTask(t *task.Task) error {
	if w.status != StatusDraft {
		return &InvalidEntityStateError{Op: "add task to", From: w.status}
	}
	if t.WorkflowID() != w.id {
		return ErrTaskWrongWorkflow
	}
	if len(w.tasks) >= w.limits.MaxTasks {
		return &SizeExceededError{MaxTasks: w.limits.MaxTasks}
	}
	for _, dep := range t.Dependencies() {
		if _, ok := w.tasks[dep]; !ok {
			return ErrUnknownDependency
		}
	}

	w.graph.addNode(t.ID())
	for _, dep := range t.Dependencies() {
		w.graph.addEdge(dep, t.ID())
	}
	if w.graph.hasCycle() {
		// Roll back the node/edges so the graph stays consistent with
		// w.tasks for any subsequent AddTask call.
		delete(w.graph.nodes, t.ID())
		for _, dep := range t.Dependencies() {
			depNode := w.graph.nodes[dep]
			depNode.dependents = removeUUID(depNode.dependents, t.ID())
		}
		return &CircularDependencyError{TaskID: t.ID()}
	}

	w.tasks[t.ID()] = t
	w.order = append(w.order, t.ID())
	return nil
}

func removeUUID(s []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := s[:0]
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// RemoveTask removes a task from the workflow. Legal only while status
// is draft.
func (w *Workflow) RemoveTask(id uuid.UUID) error {
	if w.status != StatusDraft {
		return &InvalidEntityStateError{Op: "remove task from", From: w.status}
	}
	if _, ok := w.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(w.tasks, id)
	delete(w.graph.nodes, id)
	for _, id2 := range w.order {
		if node, ok := w.graph.nodes[id2]; ok {
			node.dependents = removeUUID(node.dependents, id)
		}
	}
	idx := -1
	for i, oid := range w.order {
		if oid == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		w.order = append(w.order[:idx], w.order[idx+1:]...)
	}
	return nil
}

// Start transitions draft/pending -> running. Requires at least one task.
func (w *Workflow) Start() error {
	if w.status != StatusDraft && w.status != StatusPending {
		return &InvalidEntityStateError{Op: "start", From: w.status}
	}
	if len(w.tasks) == 0 {
		return ErrEmptyWorkflow
	}
	w.status = StatusRunning
	now := time.Now().UTC()
	w.startedAt = &now
	return nil
}

// Complete transitions an active workflow to succeeded.
func (w *Workflow) Complete() error {
	if !w.status.IsActive() {
		return &InvalidEntityStateError{Op: "complete", From: w.status}
	}
	w.status = StatusSucceeded
	now := time.Now().UTC()
	w.completedAt = &now
	return nil
}

// Fail transitions the workflow to failed from any status.
func (w *Workflow) Fail(reason string) {
	w.status = StatusFailed
	now := time.Now().UTC()
	w.completedAt = &now
	_ = reason
}

// Pause transitions running -> paused.
func (w *Workflow) Pause() error {
	if !w.status.CanPause() {
		return &InvalidEntityStateError{Op: "pause", From: w.status}
	}
	w.status = StatusPaused
	return nil
}

// Resume transitions paused -> running.
func (w *Workflow) Resume() error {
	if !w.status.CanResume() {
		return &InvalidEntityStateError{Op: "resume", From: w.status}
	}
	w.status = StatusRunning
	return nil
}

// Cancel transitions a cancellable workflow to cancelled.
func (w *Workflow) Cancel() error {
	if !w.status.CanCancel() {
		return &InvalidEntityStateError{Op: "cancel", From: w.status}
	}
	w.status = StatusCancelled
	now := time.Now().UTC()
	w.completedAt = &now
	return nil
}

// StartCompensation transitions the workflow to compensating from any status.
func (w *Workflow) StartCompensation() {
	w.status = StatusCompensating
}

// CompleteCompensation transitions compensating -> compensated.
func (w *Workflow) CompleteCompensation() error {
	if w.status != StatusCompensating {
		return &InvalidEntityStateError{Op: "complete compensation for", From: w.status}
	}
	w.status = StatusCompensated
	now := time.Now().UTC()
	w.completedAt = &now
	return nil
}

// GetRootTasks returns the tasks with no dependencies, in insertion order.
func (w *Workflow) GetRootTasks() []*task.Task {
	var out []*task.Task
	for _, id := range w.order {
		t := w.tasks[id]
		if !t.HasDependencies() {
			out = append(out, t)
		}
	}
	return out
}

// GetReadyTasks returns the waiting tasks whose dependencies have all
// succeeded. A dependency that terminated failed, cancelled, or skipped
// does not make a downstream task ready.
func (w *Workflow) GetReadyTasks() []*task.Task {
	succeeded := make(map[uuid.UUID]bool, len(w.tasks))
	for id, t := range w.tasks {
		if t.Status().Status == task.StatusSucceeded {
			succeeded[id] = true
		}
	}
	var out []*task.Task
	for _, id := range w.order {
		t := w.tasks[id]
		if t.Status().IsWaiting() && t.IsReadyToExecute(succeeded) {
			out = append(out, t)
		}
	}
	return out
}

// GetDependentTasks returns the tasks that directly depend on id.
func (w *Workflow) GetDependentTasks(id uuid.UUID) ([]*task.Task, error) {
	node, ok := w.graph.nodes[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	out := make([]*task.Task, 0, len(node.dependents))
	for _, did := range node.dependents {
		out = append(out, w.tasks[did])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID().String() < out[j].ID().String() })
	return out, nil
}

// GetProgress returns 100 * (terminal task count) / (task count), or 0
// for an empty workflow.
func (w *Workflow) GetProgress() float64 {
	if len(w.tasks) == 0 {
		return 0
	}
	terminal := 0
	for _, t := range w.tasks {
		if t.Status().IsTerminal() {
			terminal++
		}
	}
	return 100 * float64(terminal) / float64(len(w.tasks))
}

// AllTerminal reports whether every task in the workflow has reached a
// terminal status.
func (w *Workflow) AllTerminal() bool {
	for _, t := range w.tasks {
		if !t.Status().IsTerminal() {
			return false
		}
	}
	return true
}

// AllSucceeded reports whether every task in the workflow succeeded.
func (w *Workflow) AllSucceeded() bool {
	for _, t := range w.tasks {
		if t.Status().Status != task.StatusSucceeded {
			return false
		}
	}
	return true
}

// FirstFailedTask returns the first task (in insertion order) whose
// status is failed, or nil if none.
func (w *Workflow) FirstFailedTask() *task.Task {
	for _, id := range w.order {
		t := w.tasks[id]
		if t.Status().Status == task.StatusFailed {
			return t
		}
	}
	return nil
}

// ExecutionBatches returns the workflow's tasks grouped into
// topologically-ordered parallel batches; the largest batch gives the
// workflow's maximum parallelism.
func (w *Workflow) ExecutionBatches() [][]uuid.UUID {
	return w.graph.executionBatches()
}

// GetExecutionDuration returns the elapsed time between StartedAt and
// CompletedAt, or nil if either is unset.
func (w *Workflow) GetExecutionDuration() *time.Duration {
	if w.startedAt == nil || w.completedAt == nil {
		return nil
	}
	d := w.completedAt.Sub(*w.startedAt)
	return &d
}

// Rehydrate reconstructs a Workflow (and its dependency graph) from
// persisted fields. Used exclusively by repository implementations.
func Rehydrate(
	id uuid.UUID,
	name, description string,
	mode ExecutionMode,
	parentID *uuid.UUID,
	depth int,
	limits Limits,
	metadata map[string]any,
	status Status,
	tasks []*task.Task,
	startedAt, completedAt *time.Time,
	createdAt time.Time,
) *Workflow {
	w := &Workflow{
		id:            id,
		name:          name,
		description:   description,
		executionMode: mode,
		parentID:      parentID,
		depth:         depth,
		limits:        limits,
		metadata:      metadata,
		status:        status,
		tasks:         make(map[uuid.UUID]*task.Task, len(tasks)),
		graph:         newDependencyGraph(),
		startedAt:     startedAt,
		completedAt:   completedAt,
		createdAt:     createdAt,
	}
	for _, t := range tasks {
		w.graph.addNode(t.ID())
		w.tasks[t.ID()] = t
		w.order = append(w.order, t.ID())
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies() {
			w.graph.addEdge(dep, t.ID())
		}
	}
	return w
}
