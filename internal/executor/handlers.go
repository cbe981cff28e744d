package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/cortexflow/orchestra/internal/task"
)

// HTTPHandler drives task.TypeHTTP tasks by issuing the request
// described in the payload, grounded on the teacher's
// HTTPRequestHandler.
type HTTPHandler struct {
	client *http.Client
}

// NewHTTPHandler constructs an HTTPHandler. A nil client gets a 30s
// default timeout.
func NewHTTPHandler(client *http.Client) *HTTPHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPHandler{client: client}
}

func (h *HTTPHandler) Type() task.Type { return task.TypeHTTP }

func (h *HTTPHandler) Validate(payload map[string]any) error {
	if payload == nil {
		return errors.New("payload cannot be nil")
	}
	if _, ok := payload["url"]; !ok {
		return errors.New("missing required field: url")
	}
	if _, ok := payload["method"]; !ok {
		return errors.New("missing required field: method")
	}
	return nil
}

func (h *HTTPHandler) Execute(ctx context.Context, t *task.Task) (map[string]any, error) {
	payload := t.Payload()
	url, _ := payload["url"].(string)
	method, _ := payload["method"].(string)
	headers, _ := payload["headers"].(map[string]any)
	body, _ := payload["body"].(string)

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, value := range headers {
		if strValue, ok := value.(string); ok {
			req.Header.Set(key, strValue)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		parsed = string(respBody)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http request returned status %d", resp.StatusCode)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        parsed,
		"url":         url,
		"method":      method,
	}, nil
}

// WebhookHandler drives task.TypeWebhook tasks: a fire-and-forget HTTP
// POST of the task's payload to a target URL. It differs from
// HTTPHandler in that the request shape is fixed (always POST, always
// JSON body) rather than caller-specified.
type WebhookHandler struct {
	client *http.Client
}

// NewWebhookHandler constructs a WebhookHandler. A nil client gets a
// 30s default timeout.
func NewWebhookHandler(client *http.Client) *WebhookHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookHandler{client: client}
}

func (h *WebhookHandler) Type() task.Type { return task.TypeWebhook }

func (h *WebhookHandler) Validate(payload map[string]any) error {
	if payload == nil {
		return errors.New("payload cannot be nil")
	}
	if _, ok := payload["url"]; !ok {
		return errors.New("missing required field: url")
	}
	return nil
}

func (h *WebhookHandler) Execute(ctx context.Context, t *task.Task) (map[string]any, error) {
	payload := t.Payload()
	url, _ := payload["url"].(string)

	event, ok := payload["event"].(map[string]any)
	if !ok {
		event = payload
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Orchestra-Task-ID", t.ID().String())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"delivered":   true,
	}, nil
}

// ShellHandler drives task.TypeShell tasks by running a command line
// through /bin/sh -c. There is no sandboxing here: callers of
// CreateWorkflowUseCase control what command lines get submitted, same
// as the teacher's handlers never sandboxed the HTTP URLs they dialed.
type ShellHandler struct {
	shell string
}

// NewShellHandler constructs a ShellHandler. shell defaults to
// "/bin/sh" when empty.
func NewShellHandler(shell string) *ShellHandler {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &ShellHandler{shell: shell}
}

func (h *ShellHandler) Type() task.Type { return task.TypeShell }

func (h *ShellHandler) Validate(payload map[string]any) error {
	if payload == nil {
		return errors.New("payload cannot be nil")
	}
	command, ok := payload["command"].(string)
	if !ok || command == "" {
		return errors.New("missing required field: command")
	}
	return nil
}

func (h *ShellHandler) Execute(ctx context.Context, t *task.Task) (map[string]any, error) {
	payload := t.Payload()
	command := payload["command"].(string)

	cmd := exec.CommandContext(ctx, h.shell, "-c", command)
	if dir, ok := payload["workingDir"].(string); ok && dir != "" {
		cmd.Dir = dir
	}
	if env, ok := payload["env"].(map[string]any); ok {
		for k, v := range env {
			if s, ok := v.(string); ok {
				cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, s))
			}
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": cmd.ProcessState.ExitCode(),
	}
	if runErr != nil {
		return result, fmt.Errorf("command exited with error: %w", runErr)
	}
	return result, nil
}

// SQLHandler drives task.TypeSQL tasks through a caller-supplied query
// function rather than a database/sql pool, grounded on the teacher's
// HTTPRequestHandler shape (payload-driven request, JSON-shaped
// result) but re-targeted at a driver-agnostic SQL executor function
// instead of an http.Client, since the pack carries no SQL driver to
// import directly.
type SQLHandler struct {
	query func(ctx context.Context, statement string, args []any) ([]map[string]any, error)
}

// NewSQLHandler constructs a SQLHandler around a query function that
// runs statement with args and returns its rows as maps. Wiring an
// actual *sql.DB (postgres, mysql, ...) is left to the caller: which
// driver to import is a deployment decision, not something the
// orchestrator core should hardcode.
func NewSQLHandler(query func(ctx context.Context, statement string, args []any) ([]map[string]any, error)) *SQLHandler {
	return &SQLHandler{query: query}
}

func (h *SQLHandler) Type() task.Type { return task.TypeSQL }

func (h *SQLHandler) Validate(payload map[string]any) error {
	if payload == nil {
		return errors.New("payload cannot be nil")
	}
	statement, ok := payload["query"].(string)
	if !ok || statement == "" {
		return errors.New("missing required field: query")
	}
	return nil
}

func (h *SQLHandler) Execute(ctx context.Context, t *task.Task) (map[string]any, error) {
	if h.query == nil {
		return nil, errors.New("sql handler has no query function configured")
	}
	payload := t.Payload()
	statement := payload["query"].(string)
	argList, _ := payload["args"].([]any)

	rows, err := h.query(ctx, statement, argList)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return map[string]any{
		"rows":      rows,
		"row_count": len(rows),
	}, nil
}
