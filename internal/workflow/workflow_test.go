package workflow_test

import (
	"testing"

	"github.com/cortexflow/orchestra/internal/retry"
	"github.com/cortexflow/orchestra/internal/task"
	"github.com/cortexflow/orchestra/internal/workflow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkflow(t *testing.T, limits workflow.Limits) *workflow.Workflow {
	t.Helper()
	w, err := workflow.New("pipeline", "", workflow.ExecutionModeDAG, nil, 0, nil, limits)
	require.NoError(t, err)
	return w
}

func newTaskFor(t *testing.T, w *workflow.Workflow, name string, deps ...uuid.UUID) *task.Task {
	t.Helper()
	rp, err := retry.New(false, 0, retry.StrategyNone, 0, 0, 1)
	require.NoError(t, err)
	cfg := task.Config{
		Type:                 task.TypeHTTP,
		TimeoutSeconds:       30,
		Priority:             task.PriorityNormal,
		RetryPolicy:          rp,
		MaxParallelInstances: 1,
	}
	tk, err := task.New(name, cfg, map[string]any{"url": "https://example.test"}, w.ID(), deps, nil)
	require.NoError(t, err)
	return tk
}

func TestWorkflow_AddTask_RejectsUnknownDependency(t *testing.T) {
	w := newWorkflow(t, workflow.DefaultLimits())
	tk := newTaskFor(t, w, "only", uuid.New())
	assert.ErrorIs(t, w.AddTask(tk), workflow.ErrUnknownDependency)
}

func TestWorkflow_AddTask_RejectsWrongWorkflow(t *testing.T) {
	w := newWorkflow(t, workflow.DefaultLimits())
	other := newWorkflow(t, workflow.DefaultLimits())
	tk := newTaskFor(t, other, "only")
	assert.ErrorIs(t, w.AddTask(tk), workflow.ErrTaskWrongWorkflow)
}

func TestWorkflow_AddTask_RejectsCircularDependency(t *testing.T) {
	w := newWorkflow(t, workflow.DefaultLimits())
	a := newTaskFor(t, w, "a")
	require.NoError(t, w.AddTask(a))
	b := newTaskFor(t, w, "b", a.ID())
	require.NoError(t, w.AddTask(b))

	// Re-add a under its existing id, now depending on b: a -> b and
	// b -> a both present closes the cycle.
	aAgain, err := task.NewWithID(a.ID(), "a", task.Config{
		Type:                 task.TypeHTTP,
		TimeoutSeconds:       30,
		Priority:             task.PriorityNormal,
		RetryPolicy:          mustNoRetryPolicy(t),
		MaxParallelInstances: 1,
	}, map[string]any{"url": "https://example.test"}, w.ID(), []uuid.UUID{b.ID()}, nil)
	require.NoError(t, err)

	var cycleErr *workflow.CircularDependencyError
	assert.ErrorAs(t, w.AddTask(aAgain), &cycleErr)
	assert.Equal(t, 2, w.TaskCount(), "the rejected insert must not change workflow membership")
}

func mustNoRetryPolicy(t *testing.T) retry.Policy {
	t.Helper()
	rp, err := retry.New(false, 0, retry.StrategyNone, 0, 0, 1)
	require.NoError(t, err)
	return rp
}

func TestWorkflow_AddTask_RejectsAfterDraft(t *testing.T) {
	w := newWorkflow(t, workflow.DefaultLimits())
	tk := newTaskFor(t, w, "only")
	require.NoError(t, w.AddTask(tk))
	require.NoError(t, w.Start())

	tk2 := newTaskFor(t, w, "late")
	var invalid *workflow.InvalidEntityStateError
	require.ErrorAs(t, w.AddTask(tk2), &invalid)
}

func TestWorkflow_AddTask_RejectsOverSizeLimit(t *testing.T) {
	w := newWorkflow(t, workflow.Limits{MaxDepth: 10, MaxTasks: 1})
	a := newTaskFor(t, w, "a")
	require.NoError(t, w.AddTask(a))

	b := newTaskFor(t, w, "b")
	var sizeErr *workflow.SizeExceededError
	require.ErrorAs(t, w.AddTask(b), &sizeErr)
}

func TestWorkflow_New_RejectsOverDepthLimit(t *testing.T) {
	parent := uuid.New()
	_, err := workflow.New("child", "", workflow.ExecutionModeDAG, &parent, 10, nil, workflow.Limits{MaxDepth: 10, MaxTasks: 100})
	var depthErr *workflow.DepthExceededError
	require.ErrorAs(t, err, &depthErr)
}

func TestWorkflow_RemoveTask(t *testing.T) {
	w := newWorkflow(t, workflow.DefaultLimits())
	a := newTaskFor(t, w, "a")
	require.NoError(t, w.AddTask(a))

	require.NoError(t, w.RemoveTask(a.ID()))
	assert.Equal(t, 0, w.TaskCount())
	assert.ErrorIs(t, w.RemoveTask(a.ID()), workflow.ErrTaskNotFound)
}

func TestWorkflow_Start_RequiresAtLeastOneTask(t *testing.T) {
	w := newWorkflow(t, workflow.DefaultLimits())
	assert.ErrorIs(t, w.Start(), workflow.ErrEmptyWorkflow)
}

func TestWorkflow_Lifecycle_PauseResumeComplete(t *testing.T) {
	w := newWorkflow(t, workflow.DefaultLimits())
	a := newTaskFor(t, w, "a")
	require.NoError(t, w.AddTask(a))
	require.NoError(t, w.Start())
	assert.Equal(t, workflow.StatusRunning, w.Status())

	require.NoError(t, w.Pause())
	assert.Equal(t, workflow.StatusPaused, w.Status())

	require.NoError(t, w.Resume())
	assert.Equal(t, workflow.StatusRunning, w.Status())

	require.NoError(t, w.Complete())
	assert.Equal(t, workflow.StatusSucceeded, w.Status())
	require.NotNil(t, w.CompletedAt())
}

func TestWorkflow_Pause_RejectsNonRunning(t *testing.T) {
	w := newWorkflow(t, workflow.DefaultLimits())
	var invalid *workflow.InvalidEntityStateError
	require.ErrorAs(t, w.Pause(), &invalid)
}

func TestWorkflow_Cancel_FromCancellableStatuses(t *testing.T) {
	w := newWorkflow(t, workflow.DefaultLimits())
	a := newTaskFor(t, w, "a")
	require.NoError(t, w.AddTask(a))
	require.NoError(t, w.Start())

	require.NoError(t, w.Cancel())
	assert.Equal(t, workflow.StatusCancelled, w.Status())
}

func TestWorkflow_GetReadyTasks_ExcludesNonSucceededDependencies(t *testing.T) {
	w := newWorkflow(t, workflow.DefaultLimits())
	a := newTaskFor(t, w, "a")
	require.NoError(t, w.AddTask(a))
	b := newTaskFor(t, w, "b", a.ID())
	require.NoError(t, w.AddTask(b))
	require.NoError(t, w.Start())

	ready := w.GetReadyTasks()
	require.Len(t, ready, 1)
	assert.Equal(t, a.ID(), ready[0].ID())

	require.NoError(t, a.Start())
	require.NoError(t, a.Fail("boom"))
	assert.Equal(t, task.StatusFailed, a.Status().Status)

	// a failed (not succeeded), so b must never become ready.
	assert.Empty(t, w.GetReadyTasks())
}

func TestWorkflow_GetReadyTasks_UnblocksOnSuccess(t *testing.T) {
	w := newWorkflow(t, workflow.DefaultLimits())
	a := newTaskFor(t, w, "a")
	require.NoError(t, w.AddTask(a))
	b := newTaskFor(t, w, "b", a.ID())
	require.NoError(t, w.AddTask(b))
	require.NoError(t, w.Start())

	require.NoError(t, a.Start())
	require.NoError(t, a.Complete(map[string]any{}))

	ready := w.GetReadyTasks()
	require.Len(t, ready, 1)
	assert.Equal(t, b.ID(), ready[0].ID())
}

func TestWorkflow_GetRootTasks(t *testing.T) {
	w := newWorkflow(t, workflow.DefaultLimits())
	a := newTaskFor(t, w, "a")
	require.NoError(t, w.AddTask(a))
	b := newTaskFor(t, w, "b", a.ID())
	require.NoError(t, w.AddTask(b))

	roots := w.GetRootTasks()
	require.Len(t, roots, 1)
	assert.Equal(t, a.ID(), roots[0].ID())
}

func TestWorkflow_ExecutionBatches_OrdersByDependency(t *testing.T) {
	w := newWorkflow(t, workflow.DefaultLimits())
	a := newTaskFor(t, w, "a")
	require.NoError(t, w.AddTask(a))
	b := newTaskFor(t, w, "b", a.ID())
	require.NoError(t, w.AddTask(b))
	c := newTaskFor(t, w, "c", a.ID())
	require.NoError(t, w.AddTask(c))

	batches := w.ExecutionBatches()
	require.Len(t, batches, 2)
	assert.ElementsMatch(t, []uuid.UUID{a.ID()}, batches[0])
	assert.ElementsMatch(t, []uuid.UUID{b.ID(), c.ID()}, batches[1])
}

func TestWorkflow_AllSucceeded_AndFirstFailedTask(t *testing.T) {
	w := newWorkflow(t, workflow.DefaultLimits())
	a := newTaskFor(t, w, "a")
	require.NoError(t, w.AddTask(a))
	b := newTaskFor(t, w, "b")
	require.NoError(t, w.AddTask(b))
	require.NoError(t, w.Start())

	require.NoError(t, a.Start())
	require.NoError(t, a.Complete(map[string]any{}))
	assert.False(t, w.AllSucceeded())
	assert.Nil(t, w.FirstFailedTask())

	require.NoError(t, b.Start())
	require.NoError(t, b.Fail("boom"))
	assert.Equal(t, task.StatusFailed, b.Status().Status)
	assert.Equal(t, b.ID(), w.FirstFailedTask().ID())
	assert.True(t, w.AllTerminal())
}

func TestWorkflow_GetProgress(t *testing.T) {
	w := newWorkflow(t, workflow.DefaultLimits())
	a := newTaskFor(t, w, "a")
	require.NoError(t, w.AddTask(a))
	b := newTaskFor(t, w, "b")
	require.NoError(t, w.AddTask(b))
	require.NoError(t, w.Start())

	assert.Equal(t, float64(0), w.GetProgress())

	require.NoError(t, a.Start())
	require.NoError(t, a.Complete(map[string]any{}))
	assert.Equal(t, float64(50), w.GetProgress())
}
