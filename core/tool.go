package core

import "strings"

// ToolCall describes a tool invocation request produced by a model response.
// Arguments is the raw JSON argument payload exactly as the model emitted it;
// parsing is deferred to execution time so malformed arguments surface as
// per-call error observations instead of dropped calls.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and serialized arguments of a ToolCall.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// NewToolCall constructs a function-typed tool call.
func NewToolCall(id, name, arguments string) ToolCall {
	return ToolCall{
		ID:       id,
		Type:     "function",
		Function: FunctionCall{Name: name, Arguments: arguments},
	}
}

// ContentBlock is one typed segment of a tool result. Only text blocks are
// produced by the built-in tools; MCP servers may return richer sets which
// are flattened to their textual parts.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the outcome of exactly one ToolCall. IsError tags failures
// as data: an error result is still appended to the transcript and fed back
// to the model rather than raised to the caller.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"is_error,omitempty"`
}

// NewToolResult creates a successful text result.
func NewToolResult(text string) *ToolResult {
	return &ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// NewErrorResult creates an error-tagged text result.
func NewErrorResult(text string) *ToolResult {
	return &ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

// Text joins all textual content blocks with newlines.
func (r *ToolResult) Text() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Content))
	for _, b := range r.Content {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
