package model

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agentrun/core"
)

// ToolChoice controls whether the model must, may, or must not call tools.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide between text and tool calls.
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceRequired forces the model to produce at least one tool call.
	ToolChoiceRequired ToolChoice = "required"
	// ToolChoiceNone forbids tool calls; the model answers with text only.
	ToolChoiceNone ToolChoice = "none"
)

// ParseToolChoice converts a config string into a ToolChoice. Unknown values
// are rejected with an error; the empty string defaults to auto.
func ParseToolChoice(s string) (ToolChoice, error) {
	switch ToolChoice(s) {
	case "":
		return ToolChoiceAuto, nil
	case ToolChoiceAuto, ToolChoiceRequired, ToolChoiceNone:
		return ToolChoice(s), nil
	default:
		return ToolChoiceAuto, fmt.Errorf("unknown tool choice %q", s)
	}
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// NewToolDefinition builds a function-typed tool definition.
func NewToolDefinition(name, description string, parameters map[string]interface{}) ToolDefinition {
	return ToolDefinition{
		Type:     "function",
		Function: FunctionDefinition{Name: name, Description: description, Parameters: parameters},
	}
}

// Request captures the normalized model input produced by the orchestrator.
type Request struct {
	Messages   []core.Message   `json:"messages"`
	Tools      []ToolDefinition `json:"tools,omitempty"`
	ToolChoice ToolChoice       `json:"tool_choice,omitempty"`
}

// TokenUsage captures token usage statistics for a single response.
type TokenUsage struct {
	InputTokens      int64 `json:"input_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Response is the normalized outcome of one chat call: the assistant's text,
// any tool calls it requested, and the token cost of the call.
type Response struct {
	ID           string          `json:"id,omitempty"`
	Content      string          `json:"content,omitempty"`
	ToolCalls    []core.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", etc.
	Usage        TokenUsage      `json:"usage"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "scripted", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the interface agents use to drive generation. Implementations
// must expose cumulative token counters that only ever increase: step-level
// accounting is computed as deltas against watermarks of these totals.
type Model interface {
	// Chat sends the transcript (plus tool schemas and choice mode) and
	// returns the model's decision.
	Chat(ctx context.Context, req *Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info

	// TotalInputTokens returns the cumulative input token count across all
	// successful calls.
	TotalInputTokens() int64

	// TotalCompletionTokens returns the cumulative completion token count
	// across all successful calls.
	TotalCompletionTokens() int64
}

// CumulativeUsage tracks monotonically increasing token totals. Embed it in
// Model implementations and call Add after each successful request.
type CumulativeUsage struct {
	inputTokens      atomic.Int64
	completionTokens atomic.Int64
}

// Add accumulates the usage of one response into the running totals.
func (c *CumulativeUsage) Add(u TokenUsage) {
	c.inputTokens.Add(u.InputTokens)
	c.completionTokens.Add(u.CompletionTokens)
}

// TotalInputTokens returns the cumulative input token count.
func (c *CumulativeUsage) TotalInputTokens() int64 { return c.inputTokens.Load() }

// TotalCompletionTokens returns the cumulative completion token count.
func (c *CumulativeUsage) TotalCompletionTokens() int64 { return c.completionTokens.Load() }

// ScriptedModel is a deterministic in-memory Model for tests and offline
// examples. Responses are returned in the order they were queued; each
// response's Usage feeds the cumulative counters just like a real provider.
type ScriptedModel struct {
	CumulativeUsage

	mu       sync.Mutex
	script   []scripted
	requests []*Request
}

type scripted struct {
	resp *Response
	err  error
}

// NewScriptedModel constructs an empty ScriptedModel; queue responses with
// the Add* methods before use.
func NewScriptedModel() *ScriptedModel {
	return &ScriptedModel{}
}

// AddResponse queues a prepared response.
func (m *ScriptedModel) AddResponse(resp *Response) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{resp: resp})
	return m
}

// AddTextResponse queues a plain text answer with the given token cost.
func (m *ScriptedModel) AddTextResponse(content string, usage TokenUsage) *ScriptedModel {
	return m.AddResponse(&Response{ID: core.NewID(), Content: content, FinishReason: "stop", Usage: usage})
}

// AddToolCallResponse queues an answer that requests the given tool calls.
func (m *ScriptedModel) AddToolCallResponse(content string, usage TokenUsage, calls ...core.ToolCall) *ScriptedModel {
	return m.AddResponse(&Response{ID: core.NewID(), Content: content, ToolCalls: calls, FinishReason: "tool_calls", Usage: usage})
}

// AddError queues a transport failure.
func (m *ScriptedModel) AddError(err error) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{err: err})
	return m
}

// Chat implements Model by replaying the queued script.
func (m *ScriptedModel) Chat(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if len(m.script) == 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("scripted model: script exhausted after %d calls", len(m.requests))
	}
	next := m.script[0]
	m.script = m.script[1:]
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if next.err != nil {
		return nil, next.err
	}

	m.Add(next.resp.Usage)

	return next.resp, nil
}

// Info implements Model.
func (m *ScriptedModel) Info() Info {
	return Info{Name: "scripted", Provider: "scripted", SupportsTools: true}
}

// Requests returns the chat requests observed so far, in order.
func (m *ScriptedModel) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns how many Chat calls were made.
func (m *ScriptedModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

var _ Model = (*ScriptedModel)(nil)
