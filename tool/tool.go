// Package tool implements the function / tool calling subsystem that lets agents
// invoke structured capabilities (shell commands, file operations, MCP-exposed
// services) with schema validated arguments, consistent error handling and rich
// metadata for LLM guidance.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/internal/util"
)

// Tool defines the interface for extending agent capabilities with external functions.
//
// Tools are registered with a Registry and exposed to models as function
// definitions; the orchestrator routes the model's tool calls back through
// Execute.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe if used concurrently
//   - Follow consistent naming conventions
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the LLM to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// This schema is used for parameter validation and LLM function calling.
	Parameters() map[string]interface{}

	// Execute runs the tool with already-decoded arguments. A non-nil error
	// marks the call as failed; tools may alternatively return a ToolResult
	// with IsError set when the failure detail should reach the model verbatim.
	Execute(ctx context.Context, args map[string]interface{}) (*core.ToolResult, error)
}

// Cleaner is implemented by tools that hold external resources (connections,
// subprocesses) which must be released when the owning agent shuts down.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string      `json:"tool"`              // Name of the tool that failed
	Message string      `json:"message"`           // Error message
	Code    string      `json:"code"`              // Error code for categorization
	Details interface{} `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
