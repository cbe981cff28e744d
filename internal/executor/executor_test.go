package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cortexflow/orchestra/internal/retry"
	"github.com/cortexflow/orchestra/internal/task"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHandler struct {
	taskType      task.Type
	shouldFail    bool
	delay         time.Duration
	validateError error
}

func (h *mockHandler) Type() task.Type { return h.taskType }

func (h *mockHandler) Validate(payload map[string]any) error {
	return h.validateError
}

func (h *mockHandler) Execute(ctx context.Context, t *task.Task) (map[string]any, error) {
	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if h.shouldFail {
		return nil, errors.New("mock handler error")
	}
	return map[string]any{"mock": true}, nil
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(new(discardWriter))
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestTask(t *testing.T, taskType task.Type, timeoutSeconds int) *task.Task {
	t.Helper()
	rp, err := retry.New(false, 0, retry.StrategyNone, 0, 0, 1)
	require.NoError(t, err)
	cfg := task.Config{
		Type:                 taskType,
		TimeoutSeconds:       timeoutSeconds,
		Priority:             task.PriorityNormal,
		RetryPolicy:          rp,
		MaxParallelInstances: 1,
	}
	tk, err := task.New("t", cfg, map[string]any{}, uuid.New(), nil, nil)
	require.NoError(t, err)
	return tk
}

func TestExecutor_RegisterAndExecute(t *testing.T) {
	e := New(Config{}, newTestLogger())
	e.Start()

	h := &mockHandler{taskType: task.TypeHTTP}
	require.NoError(t, e.RegisterHandler(h))

	tk := newTestTask(t, task.TypeHTTP, 5)
	result, err := e.Execute(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, true, result["mock"])
}

func TestExecutor_HandlerNotFound(t *testing.T) {
	e := New(Config{}, newTestLogger())
	e.Start()

	tk := newTestTask(t, task.TypeHTTP, 5)
	_, err := e.Execute(context.Background(), tk)
	assert.ErrorIs(t, err, ErrHandlerNotFound)
}

func TestExecutor_StoppedRefusesExecute(t *testing.T) {
	e := New(Config{}, newTestLogger())
	h := &mockHandler{taskType: task.TypeHTTP}
	require.NoError(t, e.RegisterHandler(h))

	tk := newTestTask(t, task.TypeHTTP, 5)
	_, err := e.Execute(context.Background(), tk)
	assert.ErrorIs(t, err, ErrExecutorStopped)
}

func TestExecutor_HandlerFailure(t *testing.T) {
	e := New(Config{}, newTestLogger())
	e.Start()
	h := &mockHandler{taskType: task.TypeHTTP, shouldFail: true}
	require.NoError(t, e.RegisterHandler(h))

	tk := newTestTask(t, task.TypeHTTP, 5)
	_, err := e.Execute(context.Background(), tk)
	assert.Error(t, err)
}

func TestExecutor_ValidationFailure(t *testing.T) {
	e := New(Config{}, newTestLogger())
	e.Start()
	h := &mockHandler{taskType: task.TypeHTTP, validateError: errors.New("bad payload")}
	require.NoError(t, e.RegisterHandler(h))

	tk := newTestTask(t, task.TypeHTTP, 5)
	_, err := e.Execute(context.Background(), tk)
	assert.ErrorContains(t, err, "bad payload")
}

func TestExecutor_DeadlineExceeded(t *testing.T) {
	e := New(Config{MaxTimeout: 50 * time.Millisecond}, newTestLogger())
	e.Start()
	h := &mockHandler{taskType: task.TypeHTTP, delay: 200 * time.Millisecond}
	require.NoError(t, e.RegisterHandler(h))

	tk := newTestTask(t, task.TypeHTTP, 1)
	_, err := e.Execute(context.Background(), tk)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecutor_RegisterUnimplementedType(t *testing.T) {
	e := New(Config{}, newTestLogger())
	h := &mockHandler{taskType: task.TypeHuman}
	err := e.RegisterHandler(h)
	assert.ErrorIs(t, err, task.ErrUnimplementedTaskType)
}
