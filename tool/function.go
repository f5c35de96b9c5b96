package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/internal/util"
	"github.com/hupe1980/agentrun/logging"
)

// FunctionTool is a generic adapter that exposes a plain Go function as an
// AgentRun tool.
//
// Responsibilities:
//   - Holds a lightweight JSON-Schema-like parameter specification (parameters)
//   - Validates model supplied arguments against that schema before execution
//   - Normalizes error handling so callers receive *ToolError with consistent codes:
//     VALIDATION_ERROR  -> schema / argument mismatch
//     EXECUTION_ERROR   -> underlying function returned an error (non-ToolError)
//     (custom codes preserved if the function returns *ToolError directly)
//
// Concurrency:
//
//	A FunctionTool has no internal mutable state after construction and is safe
//	for concurrent use by multiple goroutines.
//
// Returned result:
//
//	The wrapped function may return a *core.ToolResult directly, a string, or
//	any JSON-serializable value; everything else is encoded into a text block.
type FunctionTool struct {
	// Tool identifier (snake_case recommended)
	name string
	// Human-readable description shown to models
	description string
	// JSON schema describing accepted arguments
	parameters map[string]any
	// User supplied implementation
	fn func(ctx context.Context, args map[string]any) (any, error)

	logger logging.Logger
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
		logger:      logging.NewNoOpLogger(),
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection, equivalent to util.CreateSchema(structType).
//
// Example:
//
//	type SumArgs struct {
//	  A float64 `json:"a" description:"First addend"`
//	  B float64 `json:"b" description:"Second addend"`
//	}
//
//	sumTool := NewFunctionToolFromStruct(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  SumArgs{},
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	schema := util.CreateSchema(structType)
	return NewFunctionTool(name, description, schema, fn)
}

// WithLogger attaches a logger for per-call diagnostics and returns the tool.
func (t *FunctionTool) WithLogger(logger logging.Logger) *FunctionTool {
	t.logger = logger
	return t
}

// Name returns the unique tool name used in function call declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the (minimal) JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Execute validates the provided args against the declared schema then invokes
// the underlying function. Validation or execution failures are wrapped (or
// passed through) as *ToolError for uniform downstream handling.
func (t *FunctionTool) Execute(ctx context.Context, args map[string]any) (*core.ToolResult, error) {
	start := time.Now()

	t.logger.Debug("tool.call.start", "tool", t.name)

	if err := util.ValidateParameters(args, t.parameters); err != nil {
		t.logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    "VALIDATION_ERROR",
			Details: err,
		}
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok { // Already a ToolError -> just log and forward
			t.logger.Error("tool.call.error", "tool", t.name, "error", toolErr.Message)

			return nil, toolErr
		}

		t.logger.Error("tool.call.error", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    "EXECUTION_ERROR",
		}
	}

	t.logger.Info("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return resultFromAny(result), nil
}

// resultFromAny folds an arbitrary return value into a ToolResult.
func resultFromAny(v any) *core.ToolResult {
	switch typed := v.(type) {
	case nil:
		return core.NewToolResult("")
	case *core.ToolResult:
		return typed
	case string:
		return core.NewToolResult(typed)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return core.NewToolResult(fmt.Sprintf("%v", typed))
		}
		return core.NewToolResult(string(encoded))
	}
}

var _ Tool = (*FunctionTool)(nil)
