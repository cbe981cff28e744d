package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/cortexflow/orchestra/internal/queue/memqueue"
	"github.com/cortexflow/orchestra/internal/retry"
	"github.com/cortexflow/orchestra/internal/store/memstore"
	"github.com/cortexflow/orchestra/internal/task"
	"github.com/cortexflow/orchestra/internal/workflow"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discard{})
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newFixture() (*Orchestrator, *Sweeper, *memstore.TaskStore, *memstore.WorkflowStore, *memqueue.Queue) {
	tasks := memstore.NewTaskStore()
	workflows := memstore.NewWorkflowStore(tasks)
	q := memqueue.New()
	o := New(workflows, tasks, q, quietLogger())
	s := NewSweeper(o, DefaultSweepSchedule, DefaultRequeueThreshold, quietLogger())
	return o, s, tasks, workflows, q
}

// buildRunningTask creates a one-task workflow, starts it, and moves the
// task to running, returning the task so the caller can manipulate its
// timing directly.
func buildRunningTask(t *testing.T, ctx context.Context, o *Orchestrator, tasks *memstore.TaskStore, workflows *memstore.WorkflowStore, timeoutSeconds int) *task.Task {
	t.Helper()
	rp, err := retry.New(false, 0, retry.StrategyNone, 0, 0, 1)
	require.NoError(t, err)

	w, err := workflow.New("sweep-fixture", "", workflow.ExecutionModeDAG, nil, 0, nil, workflow.DefaultLimits())
	require.NoError(t, err)
	tk, err := task.New("only", task.Config{
		Type:                 task.TypeHTTP,
		TimeoutSeconds:       timeoutSeconds,
		Priority:             task.PriorityNormal,
		RetryPolicy:          rp,
		MaxParallelInstances: 1,
	}, map[string]any{"url": "https://example.test"}, w.ID(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.AddTask(tk))
	require.NoError(t, workflows.Save(ctx, w))

	_, err = o.Start(ctx, w.ID())
	require.NoError(t, err)

	saved, err := tasks.GetByID(ctx, tk.ID())
	require.NoError(t, err)
	require.NoError(t, saved.Start())
	require.NoError(t, tasks.Save(ctx, saved))
	return saved
}

func TestSweeper_TimesOutRunningTaskPastDeadline(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	o, s, tasks, workflows, _ := newFixture()

	// The shortest valid timeout is one second; wait just past it so the
	// task's deadline has elapsed when the sweeper runs.
	tk := buildRunningTask(t, ctx, o, tasks, workflows, 1)
	time.Sleep(1100 * time.Millisecond)

	s.sweepOnce()

	reloaded, err := tasks.GetByID(ctx, tk.ID())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(reloaded.Status().Status).To(Equal(task.StatusFailed), "no retry budget: timeout routes straight to failed")
}

func TestSweeper_RepublishesStuckQueuedTask(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	o, s, tasks, workflows, q := newFixture()

	rp, err := retry.New(false, 0, retry.StrategyNone, 0, 0, 1)
	require.NoError(t, err)
	w, err := workflow.New("sweep-queued", "", workflow.ExecutionModeDAG, nil, 0, nil, workflow.DefaultLimits())
	require.NoError(t, err)
	tk, err := task.New("only", task.Config{
		Type:                 task.TypeHTTP,
		TimeoutSeconds:       30,
		Priority:             task.PriorityNormal,
		RetryPolicy:          rp,
		MaxParallelInstances: 1,
	}, map[string]any{"url": "https://example.test"}, w.ID(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.AddTask(tk))
	require.NoError(t, workflows.Save(ctx, w))

	_, err = o.Start(ctx, w.ID())
	require.NoError(t, err)

	// Drain the message Start() already published so the republish is
	// unambiguous.
	_, err = q.Receive(ctx, DefaultQueueName)
	require.NoError(t, err)

	// A zero requeue threshold means the task has already waited "long
	// enough" the instant it was queued, no sleep required.
	s.requeueThreshold = 0
	s.sweepOnce()

	receiveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := q.Receive(receiveCtx, DefaultQueueName)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(msg.TaskID).To(Equal(tk.ID()))
}

func TestWorkflow_FanOutFanInCompletesOnAllBranches(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	tasksStore := memstore.NewTaskStore()
	workflows := memstore.NewWorkflowStore(tasksStore)
	q := memqueue.New()
	o := New(workflows, tasksStore, q, quietLogger())
	uc := NewCreateWorkflowUseCase(workflows, workflow.DefaultLimits())

	spec := func(name string, deps ...string) TaskSpec {
		return TaskSpec{
			Name:           name,
			Type:           task.TypeHTTP,
			TimeoutSeconds: 30,
			Priority:       task.PriorityNormal,
			DependsOn:      deps,
			Payload:        map[string]any{"url": "https://example.test"},
		}
	}

	w, err := uc.Execute(ctx, CreateWorkflowRequest{
		Name: "fan-out-fan-in",
		Tasks: []TaskSpec{
			spec("root"),
			spec("branch-a", "root"),
			spec("branch-b", "root"),
			spec("join", "branch-a", "branch-b"),
		},
	})
	require.NoError(t, err)

	_, err = o.Start(ctx, w.ID())
	require.NoError(t, err)

	complete := func(name string) {
		reloaded, err := workflows.GetByID(ctx, w.ID())
		require.NoError(t, err)
		var target *task.Task
		for _, tk := range reloaded.Tasks() {
			if tk.Name() == name {
				target = tk
				break
			}
		}
		require.NotNilf(t, target, "task %q not found", name)
		require.NoError(t, target.Start())
		require.NoError(t, tasksStore.Save(ctx, target))
		require.NoError(t, o.OnTaskCompleted(ctx, target.ID(), map[string]any{"ok": true}))
	}

	complete("root")
	complete("branch-a")
	complete("branch-b")

	reloaded, err := workflows.GetByID(ctx, w.ID())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(reloaded.Status()).To(Equal(workflow.StatusRunning), "join should not have run yet")

	complete("join")

	reloaded, err = workflows.GetByID(ctx, w.ID())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(reloaded.Status()).To(Equal(workflow.StatusSucceeded))
}
