// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	model.CumulativeUsage

	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{
		client: client,
		opts:   opts,
	}
}

// Chat sends the transcript to the Messages API and normalizes the result
// into a model.Response.
func (m *Model) Chat(ctx context.Context, req *model.Request) (*model.Response, error) {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    m.buildMessages(req.Messages),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}

	if systemBlocks := m.extractSystemMessage(req.Messages); len(systemBlocks) > 0 {
		params.System = systemBlocks
	}

	if len(req.Tools) > 0 {
		params.Tools = m.buildTools(req.Tools)

		switch req.ToolChoice {
		case model.ToolChoiceRequired:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case model.ToolChoiceNone:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		default:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	out := &model.Response{
		ID: resp.ID,
		Usage: model.TokenUsage{
			InputTokens:      resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
		},
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := "{}"
			if len(toolBlock.Input) > 0 {
				args = string(toolBlock.Input)
			}
			out.ToolCalls = append(out.ToolCalls, core.NewToolCall(toolBlock.ID, toolBlock.Name, args))
		}
	}

	out.FinishReason = "stop"
	if resp.StopReason != "" {
		out.FinishReason = string(resp.StopReason)
	}

	m.Add(out.Usage)

	return out, nil
}

// buildMessages converts the normalized transcript to Anthropic message
// format. Tool results become tool_result blocks inside user messages;
// consecutive results are merged so they follow their assistant turn in a
// single user message, as the API requires.
func (m *Model) buildMessages(messages []core.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case core.RoleSystem:
			continue // handled separately via params.System
		case core.RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case core.RoleAssistant:
			flushResults()
			if blocks := m.buildAssistantContent(msg); len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flushResults()
			if msg.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}

	flushResults()

	return out
}

// extractSystemMessage collects system text into system prompt blocks.
func (m *Model) extractSystemMessage(messages []core.Message) []anthropic.TextBlockParam {
	var systemBlocks []anthropic.TextBlockParam

	for _, msg := range messages {
		if msg.Role == core.RoleSystem && msg.Content != "" {
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{
				Text: msg.Content,
			})
		}
	}

	return systemBlocks
}

// buildAssistantContent builds text and tool_use blocks for an assistant turn.
func (m *Model) buildAssistantContent(msg core.Message) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion

	if msg.Content != "" {
		content = append(content, anthropic.NewTextBlock(msg.Content))
	}

	for _, tc := range msg.ToolCalls {
		var input interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				input = tc.Function.Arguments // fallback to string
			}
		}

		content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
	}

	return content
}

// buildTools converts normalized tool definitions to Anthropic tool format.
func (m *Model) buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{Type: "object"}

		if params := tool.Function.Parameters; params != nil {
			if properties, exists := params["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := params["required"]; exists {
				inputSchema.Required = toStringSlice(required)
			}
		}

		anthropicTools[i] = anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        tool.Function.Name,
			Description: anthropic.String(tool.Function.Description),
			InputSchema: inputSchema,
		}}
	}

	return anthropicTools
}

func toStringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}

var _ model.Model = (*Model)(nil)
