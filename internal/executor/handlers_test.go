package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cortexflow/orchestra/internal/retry"
	"github.com/cortexflow/orchestra/internal/task"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTaskWithPayload(t *testing.T, taskType task.Type, payload map[string]any) *task.Task {
	t.Helper()
	rp, err := retry.New(false, 0, retry.StrategyNone, 0, 0, 1)
	require.NoError(t, err)
	cfg := task.Config{
		Type:                 taskType,
		TimeoutSeconds:       5,
		Priority:             task.PriorityNormal,
		RetryPolicy:          rp,
		MaxParallelInstances: 1,
	}
	tk, err := task.New("t", cfg, payload, uuid.New(), nil, nil)
	require.NoError(t, err)
	return tk
}

func TestHTTPHandler_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	h := NewHTTPHandler(nil)
	tk := newTestTaskWithPayload(t, task.TypeHTTP, map[string]any{
		"url":    srv.URL,
		"method": http.MethodGet,
	})
	result, err := h.Execute(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, 200, result["status_code"])
}

func TestHTTPHandler_ValidateMissingFields(t *testing.T) {
	h := NewHTTPHandler(nil)
	assert.Error(t, h.Validate(nil))
	assert.Error(t, h.Validate(map[string]any{"url": "http://x"}))
	assert.NoError(t, h.Validate(map[string]any{"url": "http://x", "method": "GET"}))
}

func TestHTTPHandler_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewHTTPHandler(nil)
	tk := newTestTaskWithPayload(t, task.TypeHTTP, map[string]any{
		"url":    srv.URL,
		"method": http.MethodGet,
	})
	_, err := h.Execute(context.Background(), tk)
	assert.Error(t, err)
}

func TestWebhookHandler_Execute(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Get("X-Orchestra-Task-ID")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h := NewWebhookHandler(nil)
	tk := newTestTaskWithPayload(t, task.TypeWebhook, map[string]any{
		"url":   srv.URL,
		"event": map[string]any{"hello": "world"},
	})
	result, err := h.Execute(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, true, result["delivered"])
	assert.Equal(t, tk.ID().String(), received)
}

func TestShellHandler_Execute(t *testing.T) {
	h := NewShellHandler("")
	tk := newTestTaskWithPayload(t, task.TypeShell, map[string]any{
		"command": "echo -n hello",
	})
	result, err := h.Execute(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, "hello", result["stdout"])
	assert.Equal(t, 0, result["exit_code"])
}

func TestShellHandler_NonZeroExit(t *testing.T) {
	h := NewShellHandler("")
	tk := newTestTaskWithPayload(t, task.TypeShell, map[string]any{
		"command": "exit 3",
	})
	result, err := h.Execute(context.Background(), tk)
	assert.Error(t, err)
	assert.Equal(t, 3, result["exit_code"])
}

func TestShellHandler_ValidateMissingCommand(t *testing.T) {
	h := NewShellHandler("")
	assert.Error(t, h.Validate(map[string]any{}))
	assert.NoError(t, h.Validate(map[string]any{"command": "true"}))
}

func TestSQLHandler_Execute(t *testing.T) {
	h := NewSQLHandler(func(ctx context.Context, statement string, args []any) ([]map[string]any, error) {
		return []map[string]any{{"id": 1}}, nil
	})
	tk := newTestTaskWithPayload(t, task.TypeSQL, map[string]any{
		"query": "SELECT 1",
	})
	result, err := h.Execute(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, 1, result["row_count"])
}

func TestSQLHandler_NoQueryFunc(t *testing.T) {
	h := NewSQLHandler(nil)
	tk := newTestTaskWithPayload(t, task.TypeSQL, map[string]any{
		"query": "SELECT 1",
	})
	_, err := h.Execute(context.Background(), tk)
	assert.Error(t, err)
}

func TestSQLHandler_ValidateMissingQuery(t *testing.T) {
	h := NewSQLHandler(nil)
	assert.Error(t, h.Validate(map[string]any{}))
	assert.NoError(t, h.Validate(map[string]any{"query": "SELECT 1"}))
}
