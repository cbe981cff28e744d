package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cortexflow/orchestra/internal/retry"
	"github.com/cortexflow/orchestra/internal/task"
	"github.com/cortexflow/orchestra/internal/workflow"
	"github.com/xeipuuv/gojsonschema"
)

// workflowRequestSchema is the JSON Schema a raw CreateWorkflow document
// must satisfy before it is decoded into a CreateWorkflowRequest. Field
// names match the JSON wire form, not the Go struct field names.
const workflowRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "tasks"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "executionMode": {"type": "string", "enum": ["sequential", "parallel", "dag"]},
    "parentId": {"type": "string"},
    "metadata": {"type": "object"},
    "tasks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "type": {"type": "string", "enum": ["http", "shell", "sql", "webhook", "human", "subworkflow"]},
          "timeoutSeconds": {"type": "integer", "minimum": 1},
          "priority": {"type": "string", "enum": ["low", "normal", "high", "critical"]},
          "idempotencyKey": {"type": "string"},
          "maxParallelInstances": {"type": "integer", "minimum": 1},
          "payload": {"type": "object"},
          "dependsOn": {"type": "array", "items": {"type": "string"}},
          "compensationTaskName": {"type": "string"},
          "retry": {
            "type": "object",
            "properties": {
              "enabled": {"type": "boolean"},
              "maxRetries": {"type": "integer", "minimum": 0},
              "strategy": {"type": "string", "enum": ["none", "fixed", "linear", "exponential"]},
              "backoffBase": {"type": "number", "minimum": 1},
              "backoffMaxSeconds": {"type": "number", "minimum": 0},
              "initialDelaySeconds": {"type": "number", "minimum": 0}
            }
          }
        }
      }
    }
  }
}`

var workflowRequestSchemaLoader = gojsonschema.NewStringLoader(workflowRequestSchema)

// ValidateWorkflowRequestJSON checks a raw CreateWorkflow document
// against workflowRequestSchema, returning an aggregated error naming
// every violation rather than failing on the first one.
func ValidateWorkflowRequestJSON(doc []byte) error {
	result, err := gojsonschema.Validate(workflowRequestSchemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("orchestrator: schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	errs := make(ValidationErrors, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		errs = append(errs, ValidationError{Field: re.Field(), Message: re.Description()})
	}
	return errs
}

// wireTaskSpec and wireRequest mirror the JSON wire form validated by
// workflowRequestSchema; DecodeWorkflowRequest converts one into the
// typed CreateWorkflowRequest CreateWorkflowUseCase.Execute consumes.
type wireRetrySpec struct {
	Enabled             *bool    `json:"enabled"`
	MaxRetries          *int     `json:"maxRetries"`
	Strategy            string   `json:"strategy"`
	BackoffBase         float64  `json:"backoffBase"`
	BackoffMaxSeconds   float64  `json:"backoffMaxSeconds"`
	InitialDelaySeconds float64  `json:"initialDelaySeconds"`
}

type wireTaskSpec struct {
	Name                 string         `json:"name"`
	Type                 string         `json:"type"`
	TimeoutSeconds       int            `json:"timeoutSeconds"`
	Priority             string         `json:"priority"`
	IdempotencyKey       string         `json:"idempotencyKey"`
	MaxParallelInstances int            `json:"maxParallelInstances"`
	Payload              map[string]any `json:"payload"`
	DependsOn            []string       `json:"dependsOn"`
	CompensationTaskName string         `json:"compensationTaskName"`
	Retry                *wireRetrySpec `json:"retry"`
}

type wireRequest struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	ExecutionMode string         `json:"executionMode"`
	ParentID      string         `json:"parentId"`
	Metadata      map[string]any `json:"metadata"`
	Tasks         []wireTaskSpec `json:"tasks"`
}

// DecodeWorkflowRequest validates doc against the schema, then decodes
// it into a CreateWorkflowRequest. Timeouts and priorities default the
// same way original_source/create_workflow.py's per-field .get() calls
// do (300s timeout, normal priority, exponential retry) when the wire
// document omits them.
func DecodeWorkflowRequest(doc []byte) (CreateWorkflowRequest, error) {
	if err := ValidateWorkflowRequestJSON(doc); err != nil {
		return CreateWorkflowRequest{}, err
	}
	var w wireRequest
	if err := json.Unmarshal(doc, &w); err != nil {
		return CreateWorkflowRequest{}, fmt.Errorf("orchestrator: decode workflow request: %w", err)
	}

	req := CreateWorkflowRequest{
		Name:        w.Name,
		Description: w.Description,
		Metadata:    w.Metadata,
	}
	if w.ExecutionMode != "" {
		req.ExecutionMode = modeFromWire(w.ExecutionMode)
	}

	for _, wt := range w.Tasks {
		spec := taskSpecFromWire(wt)
		req.Tasks = append(req.Tasks, spec)
	}
	return req, nil
}

func modeFromWire(m string) workflow.ExecutionMode {
	mode := workflow.ExecutionMode(m)
	if !mode.Valid() {
		return workflow.ExecutionModeDAG
	}
	return mode
}

func taskSpecFromWire(wt wireTaskSpec) TaskSpec {
	timeout := wt.TimeoutSeconds
	if timeout == 0 {
		timeout = 300
	}
	priority := task.Priority(wt.Priority)
	if wt.Priority == "" {
		priority = task.PriorityNormal
	}

	spec := TaskSpec{
		Name:                 wt.Name,
		Type:                 task.Type(wt.Type),
		TimeoutSeconds:       timeout,
		Priority:             priority,
		IdempotencyKey:       wt.IdempotencyKey,
		MaxParallelInstances: wt.MaxParallelInstances,
		Payload:              wt.Payload,
		DependsOn:            wt.DependsOn,
		CompensationTaskName: wt.CompensationTaskName,
	}
	if spec.MaxParallelInstances == 0 {
		spec.MaxParallelInstances = 1
	}

	rs := RetrySpec{Enabled: true, MaxRetries: 3, Strategy: retry.StrategyExponential, BackoffBase: 2, InitialDelay: time.Second, BackoffMax: 60 * time.Second}
	if wt.Retry != nil {
		if wt.Retry.Enabled != nil {
			rs.Enabled = *wt.Retry.Enabled
		}
		if wt.Retry.MaxRetries != nil {
			rs.MaxRetries = *wt.Retry.MaxRetries
		}
		if wt.Retry.Strategy != "" {
			rs.Strategy = retry.Strategy(wt.Retry.Strategy)
		}
		if wt.Retry.BackoffBase != 0 {
			rs.BackoffBase = wt.Retry.BackoffBase
		}
		if wt.Retry.InitialDelaySeconds != 0 {
			rs.InitialDelay = time.Duration(wt.Retry.InitialDelaySeconds * float64(time.Second))
		}
		if wt.Retry.BackoffMaxSeconds != 0 {
			rs.BackoffMax = time.Duration(wt.Retry.BackoffMaxSeconds * float64(time.Second))
		}
	}
	spec.Retry = rs
	return spec
}
