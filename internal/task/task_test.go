package task_test

import (
	"testing"
	"time"

	"github.com/cortexflow/orchestra/internal/retry"
	"github.com/cortexflow/orchestra/internal/task"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noRetryConfig() task.Config {
	rp, _ := retry.New(false, 0, retry.StrategyNone, 0, 0, 1)
	return task.Config{
		Type:                 task.TypeHTTP,
		TimeoutSeconds:       30,
		Priority:             task.PriorityNormal,
		RetryPolicy:          rp,
		MaxParallelInstances: 1,
	}
}

func retriableConfig(maxRetries int) task.Config {
	rp, _ := retry.New(true, maxRetries, retry.StrategyFixed, time.Millisecond, time.Millisecond, 1)
	return task.Config{
		Type:                 task.TypeHTTP,
		TimeoutSeconds:       30,
		Priority:             task.PriorityNormal,
		RetryPolicy:          rp,
		MaxParallelInstances: 1,
	}
}

func newTask(t *testing.T, cfg task.Config) *task.Task {
	t.Helper()
	tk, err := task.New("t", cfg, map[string]any{"url": "https://example.test"}, uuid.New(), nil, nil)
	require.NoError(t, err)
	return tk
}

func TestTask_New_RejectsInvalidConfig(t *testing.T) {
	_, err := task.New("t", task.Config{Type: "bogus"}, nil, uuid.New(), nil, nil)
	assert.ErrorIs(t, err, task.ErrInvalidTaskType)
}

func TestTask_HappyPath_QueueStartComplete(t *testing.T) {
	tk := newTask(t, noRetryConfig())
	assert.Equal(t, task.StatusPending, tk.Status().Status)

	require.NoError(t, tk.Queue())
	assert.Equal(t, task.StatusQueued, tk.Status().Status)

	require.NoError(t, tk.Start())
	assert.Equal(t, task.StatusRunning, tk.Status().Status)
	require.NotNil(t, tk.StartedAt())

	require.NoError(t, tk.Complete(map[string]any{"ok": true}))
	assert.Equal(t, task.StatusSucceeded, tk.Status().Status)
	assert.Equal(t, map[string]any{"ok": true}, tk.Result())
	require.NotNil(t, tk.CompletedAt())
	require.NotNil(t, tk.GetExecutionDuration())
}

func TestTask_Complete_RejectsWaitingStatus(t *testing.T) {
	tk := newTask(t, noRetryConfig())
	// Still pending: Complete requires IsActive(), not IsWaiting().
	err := tk.Complete(map[string]any{"ok": true})
	var invalid *task.InvalidEntityStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, task.StatusPending, invalid.From)
}

func TestTask_Complete_RejectsNilResult(t *testing.T) {
	tk := newTask(t, noRetryConfig())
	require.NoError(t, tk.Queue())
	require.NoError(t, tk.Start())
	assert.ErrorIs(t, tk.Complete(nil), task.ErrNilResult)
}

func TestTask_Fail_NoRetryBudget_GoesTerminal(t *testing.T) {
	tk := newTask(t, noRetryConfig())
	require.NoError(t, tk.Queue())
	require.NoError(t, tk.Start())

	require.NoError(t, tk.Fail("boom"))
	assert.Equal(t, task.StatusFailed, tk.Status().Status)
	assert.Equal(t, "boom", tk.Error())
	assert.Equal(t, 0, tk.RetryCount())
	require.NotNil(t, tk.CompletedAt())
}

func TestTask_Fail_WithBudget_GoesRetrying(t *testing.T) {
	tk := newTask(t, retriableConfig(2))
	require.NoError(t, tk.Queue())
	require.NoError(t, tk.Start())

	require.NoError(t, tk.Fail("boom"))
	assert.Equal(t, task.StatusRetrying, tk.Status().Status)
	assert.Equal(t, 1, tk.RetryCount())
	assert.Nil(t, tk.CompletedAt())
}

func TestTask_Fail_ExhaustsBudgetAcrossAttempts(t *testing.T) {
	tk := newTask(t, retriableConfig(1))
	require.NoError(t, tk.Queue())
	require.NoError(t, tk.Start())

	require.NoError(t, tk.Fail("first"))
	assert.Equal(t, task.StatusRetrying, tk.Status().Status)

	require.NoError(t, tk.Requeue())
	require.NoError(t, tk.Start())

	require.NoError(t, tk.Fail("second"))
	assert.Equal(t, task.StatusFailed, tk.Status().Status, "retry budget of 1 is spent after the first failure")
}

func TestTask_Requeue_OnlyFromRetrying(t *testing.T) {
	tk := newTask(t, retriableConfig(1))
	err := tk.Requeue()
	var invalid *task.InvalidEntityStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "requeue", invalid.Op)
	assert.Equal(t, task.StatusPending, invalid.From)
}

func TestTask_Cancel_AnyNonTerminalStatus(t *testing.T) {
	tk := newTask(t, noRetryConfig())
	require.NoError(t, tk.Cancel())
	assert.Equal(t, task.StatusCancelled, tk.Status().Status)
	require.NotNil(t, tk.CompletedAt())
}

func TestTask_Cancel_RejectsTerminalStatus(t *testing.T) {
	tk := newTask(t, noRetryConfig())
	require.NoError(t, tk.Queue())
	require.NoError(t, tk.Start())
	require.NoError(t, tk.Complete(map[string]any{}))

	err := tk.Cancel()
	var invalid *task.InvalidEntityStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, task.StatusSucceeded, invalid.From)
}

func TestTask_Skip_SetsMockResultAndTerminates(t *testing.T) {
	tk := newTask(t, noRetryConfig())
	tk.Skip(map[string]any{"mocked": true})
	assert.Equal(t, task.StatusSkipped, tk.Status().Status)
	assert.Equal(t, map[string]any{"mocked": true}, tk.Result())
	assert.True(t, tk.Status().IsTerminal())
}

func TestTask_Skip_NilResultBecomesEmptyMap(t *testing.T) {
	tk := newTask(t, noRetryConfig())
	tk.Skip(nil)
	assert.Equal(t, map[string]any{}, tk.Result())
}

func TestTask_Timeout_NoRetryConsumed(t *testing.T) {
	tk := newTask(t, retriableConfig(3))
	require.NoError(t, tk.Queue())
	require.NoError(t, tk.Start())

	require.NoError(t, tk.Timeout())
	assert.Equal(t, task.StatusTimeout, tk.Status().Status)
	assert.Equal(t, 0, tk.RetryCount(), "Timeout does not touch the retry budget")
	assert.False(t, tk.Status().IsTerminal(), "timeout is retriable, not terminal")
}

func TestTask_Retry_ExplicitAttemptFromTimeout(t *testing.T) {
	tk := newTask(t, retriableConfig(1))
	require.NoError(t, tk.Queue())
	require.NoError(t, tk.Start())
	require.NoError(t, tk.Timeout())

	require.NoError(t, tk.Retry())
	assert.Equal(t, task.StatusRunning, tk.Status().Status)
	assert.Equal(t, 1, tk.RetryCount())
}

func TestTask_Retry_RejectsExhaustedBudget(t *testing.T) {
	tk := newTask(t, noRetryConfig())
	require.NoError(t, tk.Queue())
	require.NoError(t, tk.Start())
	require.NoError(t, tk.Timeout())

	err := tk.Retry()
	var maxExceeded *task.MaxRetryExceededError
	require.ErrorAs(t, err, &maxExceeded)
}

func TestTask_Retry_RejectsNonRetriableStatus(t *testing.T) {
	tk := newTask(t, retriableConfig(1))
	// Still pending, not failed/timeout.
	err := tk.Retry()
	var invalid *task.InvalidEntityStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "retry", invalid.Op)
}

func TestTask_IsReadyToExecute(t *testing.T) {
	depA, depB := uuid.New(), uuid.New()
	tk, err := task.New("t", noRetryConfig(), nil, uuid.New(), []uuid.UUID{depA, depB}, nil)
	require.NoError(t, err)

	assert.True(t, tk.HasDependencies())
	assert.False(t, tk.IsReadyToExecute(map[uuid.UUID]bool{depA: true}))
	assert.True(t, tk.IsReadyToExecute(map[uuid.UUID]bool{depA: true, depB: true}))
}

func TestTask_Payload_IsDefensivelyCopied(t *testing.T) {
	payload := map[string]any{"url": "https://example.test"}
	tk, err := task.New("t", noRetryConfig(), payload, uuid.New(), nil, nil)
	require.NoError(t, err)

	payload["url"] = "mutated"
	assert.Equal(t, "https://example.test", tk.Payload()["url"])

	got := tk.Payload()
	got["url"] = "also mutated"
	assert.Equal(t, "https://example.test", tk.Payload()["url"])
}
