// Package orchestrator implements the event-driven core of the system:
// the WorkflowOrchestrator service that starts workflows, reacts to
// task completion and failure, schedules newly-ready tasks, and detects
// terminal conditions, plus the CreateWorkflow use case.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/cortexflow/orchestra/internal/queue"
	"github.com/cortexflow/orchestra/internal/task"
	"github.com/cortexflow/orchestra/internal/workflow"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the work queue name the orchestrator publishes
// task messages to.
const DefaultQueueName = "tasks"

// Orchestrator is the WorkflowOrchestrator service of the design: the
// reactive, idempotent core that drives workflows and tasks through
// their lifecycles. It takes its collaborators as explicit dependencies
// so tests can substitute in-memory fakes.
type Orchestrator struct {
	workflows workflow.Repository
	tasks     task.Repository
	queue     queue.WorkQueue
	queueName string
	logger    *logrus.Logger
	locks     *workflowLocks
}

// New constructs an Orchestrator. logger may be nil, in which case the
// standard logrus logger is used.
func New(workflows workflow.Repository, tasks task.Repository, q queue.WorkQueue, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		workflows: workflows,
		tasks:     tasks,
		queue:     q,
		queueName: DefaultQueueName,
		logger:    logger,
		locks:     newWorkflowLocks(),
	}
}

func publishMessage(t *task.Task) queue.Message {
	return queue.Message{
		TaskID:     t.ID(),
		WorkflowID: t.WorkflowID(),
		TaskType:   string(t.Config().Type),
		Payload:    t.Payload(),
		Priority:   t.Config().Priority.QueuePriority(),
	}
}

// Start loads the workflow, transitions it to running, and publishes
// every root task. A failure before any task is published marks the
// workflow failed; a failure to publish after a task was saved queued
// is tolerated (see the recovery sweeper).
func (o *Orchestrator) Start(ctx context.Context, workflowID uuid.UUID) (*workflow.Workflow, error) {
	mu := o.locks.forWorkflow(workflowID.String())
	mu.Lock()
	defer mu.Unlock()

	w, err := o.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		return nil, err
	}
	if err := o.workflows.Save(ctx, w); err != nil {
		return nil, &WorkflowExecutionError{Op: "start", Err: err}
	}

	for _, t := range w.GetRootTasks() {
		if err := t.Queue(); err != nil {
			// Duplicate or out-of-order start: leave this task alone.
			continue
		}
		if err := o.tasks.Save(ctx, t); err != nil {
			w.Fail(err.Error())
			_ = o.workflows.Save(ctx, w)
			return nil, &WorkflowExecutionError{Op: "start", Err: err}
		}
		if err := o.queue.Publish(ctx, o.queueName, publishMessage(t)); err != nil {
			o.logger.WithError(err).WithFields(logrus.Fields{
				"workflow_id": workflowID,
				"task_id":     t.ID(),
			}).Warn("orchestrator: publish failed, task left queued for recovery sweep")
		}
	}
	return w, nil
}

// OnTaskCompleted records a successful task result, schedules any tasks
// that became ready as a result, and checks whether the owning workflow
// is now complete. A completion callback for an already-terminal task
// (a duplicate delivery) is treated as a no-op, not an error.
func (o *Orchestrator) OnTaskCompleted(ctx context.Context, taskID uuid.UUID, result map[string]any) error {
	t, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		return &WorkflowExecutionError{Op: "onTaskCompleted", Err: &EntityNotFoundError{Kind: "task", ID: taskID.String()}}
	}

	mu := o.locks.forWorkflow(t.WorkflowID().String())
	mu.Lock()
	defer mu.Unlock()

	if err := t.Complete(result); err != nil {
		var invalid *task.InvalidEntityStateError
		if errors.As(err, &invalid) {
			o.logger.WithField("task_id", taskID).Debug("orchestrator: duplicate completion ignored")
			return nil
		}
		return &WorkflowExecutionError{Op: "onTaskCompleted", Err: err}
	}
	if err := o.tasks.Save(ctx, t); err != nil {
		return &WorkflowExecutionError{Op: "onTaskCompleted", Err: err}
	}

	if err := o.scheduleDependentTasks(ctx, t.WorkflowID()); err != nil {
		return err
	}
	return o.checkWorkflowCompletion(ctx, t.WorkflowID())
}

// OnTaskFailed records a task failure. If the retry policy still has
// budget the task moves to retrying and is requeued after the computed
// backoff delay; otherwise the task is terminally failed and the owning
// workflow fails with it.
func (o *Orchestrator) OnTaskFailed(ctx context.Context, taskID uuid.UUID, errMsg string) error {
	t, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		return &WorkflowExecutionError{Op: "onTaskFailed", Err: &EntityNotFoundError{Kind: "task", ID: taskID.String()}}
	}

	mu := o.locks.forWorkflow(t.WorkflowID().String())
	mu.Lock()
	defer mu.Unlock()

	if err := t.Fail(errMsg); err != nil {
		var invalid *task.InvalidEntityStateError
		if errors.As(err, &invalid) {
			o.logger.WithField("task_id", taskID).Debug("orchestrator: duplicate failure ignored")
			return nil
		}
		return &WorkflowExecutionError{Op: "onTaskFailed", Err: err}
	}
	if err := o.tasks.Save(ctx, t); err != nil {
		return &WorkflowExecutionError{Op: "onTaskFailed", Err: err}
	}

	if t.Status().Status.IsTerminal() {
		w, err := o.loadWorkflow(ctx, t.WorkflowID())
		if err != nil {
			return err
		}
		w.Fail(fmt.Sprintf("task %s failed: %s", t.Name(), errMsg))
		if err := o.workflows.Save(ctx, w); err != nil {
			return &WorkflowExecutionError{Op: "onTaskFailed", Err: err}
		}
		return nil
	}

	// Retrying: requeue the task and publish a delayed message for the
	// next attempt. The delay is keyed off the attempt just recorded.
	delay := t.Config().RetryPolicy.CalculateDelay(t.RetryCount() - 1)
	if err := t.Requeue(); err != nil {
		return &WorkflowExecutionError{Op: "onTaskFailed", Err: err}
	}
	if err := o.tasks.Save(ctx, t); err != nil {
		return &WorkflowExecutionError{Op: "onTaskFailed", Err: err}
	}
	if err := o.queue.PublishDelayed(ctx, o.queueName, publishMessage(t), delay); err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"workflow_id": t.WorkflowID(),
			"task_id":     t.ID(),
		}).Warn("orchestrator: delayed publish failed, task left queued for recovery sweep")
	}
	return nil
}

// Pause guards and persists a transition to paused. In-flight tasks
// continue; no new tasks are scheduled while paused.
func (o *Orchestrator) Pause(ctx context.Context, workflowID uuid.UUID) (*workflow.Workflow, error) {
	mu := o.locks.forWorkflow(workflowID.String())
	mu.Lock()
	defer mu.Unlock()

	w, err := o.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := w.Pause(); err != nil {
		return nil, err
	}
	if err := o.workflows.Save(ctx, w); err != nil {
		return nil, &WorkflowExecutionError{Op: "pause", Err: err}
	}
	return w, nil
}

// Resume guards and persists a transition back to running, then picks
// up any tasks that became ready while paused.
func (o *Orchestrator) Resume(ctx context.Context, workflowID uuid.UUID) (*workflow.Workflow, error) {
	mu := o.locks.forWorkflow(workflowID.String())
	mu.Lock()
	defer mu.Unlock()

	w, err := o.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := w.Resume(); err != nil {
		return nil, err
	}
	if err := o.workflows.Save(ctx, w); err != nil {
		return nil, &WorkflowExecutionError{Op: "resume", Err: err}
	}
	if err := o.scheduleDependentTasksLocked(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Cancel guards and persists a transition to cancelled, then cancels
// every non-terminal task. Cancellation of an already-terminal or
// already-cancelled task is tolerated, not an error: a cancelled task
// may still report back from its executor, and that report is dropped
// because the task is already terminal.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID uuid.UUID) (*workflow.Workflow, error) {
	mu := o.locks.forWorkflow(workflowID.String())
	mu.Lock()
	defer mu.Unlock()

	w, err := o.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := w.Cancel(); err != nil {
		return nil, err
	}
	if err := o.workflows.Save(ctx, w); err != nil {
		return nil, &WorkflowExecutionError{Op: "cancel", Err: err}
	}
	for _, t := range w.Tasks() {
		status := t.Status()
		if status.IsActive() || status.IsWaiting() {
			_ = t.Cancel()
			if err := o.tasks.Save(ctx, t); err != nil {
				return nil, &WorkflowExecutionError{Op: "cancel", Err: err}
			}
		}
	}
	return w, nil
}

// scheduleDependentTasks queries the repository's indexed ready-tasks
// view and publishes each one. A task already queued or running is
// never re-queued: Queue() rejects it.
func (o *Orchestrator) scheduleDependentTasks(ctx context.Context, workflowID uuid.UUID) error {
	w, err := o.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return &WorkflowExecutionError{Op: "scheduleDependentTasks", Err: &EntityNotFoundError{Kind: "workflow", ID: workflowID.String()}}
	}
	return o.scheduleDependentTasksLocked(ctx, w)
}

func (o *Orchestrator) scheduleDependentTasksLocked(ctx context.Context, w *workflow.Workflow) error {
	if w.Status() != workflow.StatusRunning {
		// Paused (or any other non-running state): do not schedule.
		return nil
	}
	ready, err := o.tasks.GetReadyTasks(ctx, w.ID())
	if err != nil {
		return &WorkflowExecutionError{Op: "scheduleDependentTasks", Err: err}
	}
	for _, t := range ready {
		if err := t.Queue(); err != nil {
			continue
		}
		if err := o.tasks.Save(ctx, t); err != nil {
			return &WorkflowExecutionError{Op: "scheduleDependentTasks", Err: err}
		}
		if err := o.queue.Publish(ctx, o.queueName, publishMessage(t)); err != nil {
			o.logger.WithError(err).WithFields(logrus.Fields{
				"workflow_id": w.ID(),
				"task_id":     t.ID(),
			}).Warn("orchestrator: publish failed, task left queued for recovery sweep")
		}
	}
	return nil
}

// checkWorkflowCompletion loads the workflow and, if every task has
// reached a terminal status, transitions the workflow to succeeded or
// failed accordingly.
func (o *Orchestrator) checkWorkflowCompletion(ctx context.Context, workflowID uuid.UUID) error {
	w, err := o.loadWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if w.TaskCount() == 0 || !w.AllTerminal() {
		return nil
	}
	if w.AllSucceeded() {
		if err := w.Complete(); err != nil {
			return &WorkflowExecutionError{Op: "checkWorkflowCompletion", Err: err}
		}
	} else {
		reason := ""
		if failed := w.FirstFailedTask(); failed != nil {
			reason = failed.Error()
		}
		w.Fail(reason)
	}
	if err := o.workflows.Save(ctx, w); err != nil {
		return &WorkflowExecutionError{Op: "checkWorkflowCompletion", Err: err}
	}
	return nil
}

func (o *Orchestrator) loadWorkflow(ctx context.Context, id uuid.UUID) (*workflow.Workflow, error) {
	w, err := o.workflows.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return nil, &EntityNotFoundError{Kind: "workflow", ID: id.String()}
		}
		return nil, &WorkflowExecutionError{Op: "loadWorkflow", Err: err}
	}
	return w, nil
}
