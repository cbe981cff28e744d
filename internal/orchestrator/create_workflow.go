package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cortexflow/orchestra/internal/retry"
	"github.com/cortexflow/orchestra/internal/task"
	"github.com/cortexflow/orchestra/internal/workflow"
	"github.com/google/uuid"
)

// RetrySpec is the wire/struct shape of a task's retry configuration,
// mirroring original_source's per-field parsing with Go-side defaults
// filled in by retryPolicyFromSpec.
type RetrySpec struct {
	Enabled     bool
	MaxRetries  int
	Strategy    retry.Strategy
	BackoffBase float64
	BackoffMax  time.Duration
	InitialDelay time.Duration
}

// TaskSpec describes one task within a CreateWorkflow request. Unlike
// the original_source dict-based form (which expects dependencies to
// already be known UUIDs), dependencies here are declared by Name
// within the same request and resolved by CreateWorkflowUseCase before
// any Task entity is constructed.
type TaskSpec struct {
	Name                 string
	Type                 task.Type
	TimeoutSeconds       int
	Priority             task.Priority
	Retry                RetrySpec
	IdempotencyKey       string
	MaxParallelInstances int
	Payload              map[string]any
	DependsOn            []string
	CompensationTaskName string
}

// CreateWorkflowRequest is the input to CreateWorkflowUseCase.Execute.
type CreateWorkflowRequest struct {
	Name          string
	Description   string
	ExecutionMode workflow.ExecutionMode
	ParentID      *uuid.UUID
	ParentDepth   int
	Metadata      map[string]any
	Tasks         []TaskSpec
}

// CreateWorkflowUseCase validates a declarative workflow request,
// constructs the Workflow and Task entities, and persists them,
// mirroring original_source's CreateWorkflowUseCase.execute.
type CreateWorkflowUseCase struct {
	workflows workflow.Repository
	limits    workflow.Limits
}

// NewCreateWorkflowUseCase constructs the use case. limits bounds every
// workflow it creates (see workflow.DefaultLimits).
func NewCreateWorkflowUseCase(workflows workflow.Repository, limits workflow.Limits) *CreateWorkflowUseCase {
	return &CreateWorkflowUseCase{workflows: workflows, limits: limits}
}

// Execute validates req, builds the workflow and its tasks, persists
// the result, and returns the constructed aggregate.
func (uc *CreateWorkflowUseCase) Execute(ctx context.Context, req CreateWorkflowRequest) (*workflow.Workflow, error) {
	if errs := validateRequest(req); len(errs) > 0 {
		return nil, errs
	}

	mode := req.ExecutionMode
	if mode == "" {
		mode = workflow.ExecutionModeDAG
	}

	w, err := workflow.New(req.Name, req.Description, mode, req.ParentID, req.ParentDepth, req.Metadata, uc.limits)
	if err != nil {
		return nil, err
	}

	specs := desugarDependencies(req.Tasks, mode)
	order, err := topoSortByName(specs)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]uuid.UUID, len(specs))
	byName := make(map[string]TaskSpec, len(specs))
	for _, s := range specs {
		ids[s.Name] = uuid.New()
		byName[s.Name] = s
	}

	for _, name := range order {
		s := byName[name]
		t, err := taskFromSpec(w.ID(), s, ids)
		if err != nil {
			return nil, err
		}
		if err := w.AddTask(t); err != nil {
			return nil, err
		}
	}

	if err := uc.workflows.Save(ctx, w); err != nil {
		return nil, &WorkflowExecutionError{Op: "createWorkflow", Err: err}
	}
	return w, nil
}

// desugarDependencies implements SPEC_FULL's execution-mode sugar:
// sequential chains each task behind the previous one; parallel clears
// every declared dependency; dag leaves DependsOn untouched.
func desugarDependencies(specs []TaskSpec, mode workflow.ExecutionMode) []TaskSpec {
	out := make([]TaskSpec, len(specs))
	copy(out, specs)
	switch mode {
	case workflow.ExecutionModeSequential:
		for i := range out {
			if i == 0 {
				out[i].DependsOn = nil
			} else {
				out[i].DependsOn = []string{out[i-1].Name}
			}
		}
	case workflow.ExecutionModeParallel:
		for i := range out {
			out[i].DependsOn = nil
		}
	}
	return out
}

func taskFromSpec(workflowID uuid.UUID, s TaskSpec, ids map[string]uuid.UUID) (*task.Task, error) {
	rp, err := retryPolicyFromSpec(s.Retry)
	if err != nil {
		return nil, err
	}
	maxParallel := s.MaxParallelInstances
	if maxParallel == 0 {
		maxParallel = 1
	}
	cfg := task.Config{
		Type:                 s.Type,
		TimeoutSeconds:       s.TimeoutSeconds,
		Priority:             s.Priority,
		RetryPolicy:          rp,
		IdempotencyKey:       s.IdempotencyKey,
		MaxParallelInstances: maxParallel,
	}
	deps := make([]uuid.UUID, 0, len(s.DependsOn))
	for _, dn := range s.DependsOn {
		deps = append(deps, ids[dn])
	}
	var compTaskID *uuid.UUID
	if s.CompensationTaskName != "" {
		if id, ok := ids[s.CompensationTaskName]; ok {
			compTaskID = &id
		}
	}
	return task.NewWithID(ids[s.Name], s.Name, cfg, s.Payload, workflowID, deps, compTaskID)
}

func retryPolicyFromSpec(r RetrySpec) (retry.Policy, error) {
	strategy := r.Strategy
	if strategy == "" {
		strategy = retry.StrategyExponential
	}
	backoffBase := r.BackoffBase
	if backoffBase == 0 {
		backoffBase = 2
	}
	initialDelay := r.InitialDelay
	if initialDelay == 0 {
		initialDelay = time.Second
	}
	maxDelay := r.BackoffMax
	if maxDelay == 0 {
		maxDelay = 60 * time.Second
	}
	maxRetries := r.MaxRetries
	return retry.New(r.Enabled, maxRetries, strategy, initialDelay, maxDelay, backoffBase)
}

// validateRequest aggregates every field-level problem into a single
// ValidationErrors, rather than failing on the first one, so a caller
// submitting a declarative spec sees every mistake at once.
func validateRequest(req CreateWorkflowRequest) ValidationErrors {
	var errs ValidationErrors
	if req.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "must not be empty"})
	}
	if len(req.Tasks) == 0 {
		errs = append(errs, ValidationError{Field: "tasks", Message: "workflow must declare at least one task"})
	}
	seen := make(map[string]bool, len(req.Tasks))
	for i, s := range req.Tasks {
		field := fmt.Sprintf("tasks[%d]", i)
		if s.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "must not be empty"})
			continue
		}
		if seen[s.Name] {
			errs = append(errs, ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate task name %q", s.Name)})
		}
		seen[s.Name] = true
		if !s.Type.Implemented() {
			errs = append(errs, ValidationError{Field: field + ".type", Message: fmt.Sprintf("task type %q is reserved and not yet implemented", s.Type)})
		}
	}
	for i, s := range req.Tasks {
		field := fmt.Sprintf("tasks[%d]", i)
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				errs = append(errs, ValidationError{Field: field + ".dependsOn", Message: fmt.Sprintf("unknown dependency %q", dep)})
			}
		}
	}
	return errs
}

// topoSortByName orders specs so every dependency precedes its
// dependents, which Workflow.AddTask requires. It reports a
// *workflow.CircularDependencyError-shaped problem as a plain error
// since no Task entity (and hence no task id) exists yet to attach to
// a typed CircularDependencyError.
func topoSortByName(specs []TaskSpec) ([]string, error) {
	indegree := make(map[string]int, len(specs))
	dependents := make(map[string][]string, len(specs))
	for _, s := range specs {
		if _, ok := indegree[s.Name]; !ok {
			indegree[s.Name] = 0
		}
		for _, dep := range s.DependsOn {
			indegree[s.Name]++
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}
	var queue []string
	for _, s := range specs {
		if indegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}
	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, d := range dependents[n] {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if len(order) != len(specs) {
		return nil, fmt.Errorf("orchestrator: task dependencies contain a cycle")
	}
	return order, nil
}
