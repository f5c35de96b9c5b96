// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API (including function/tool calling). It adapts
// AgentRun's normalized Request/Response structures into the SDK's message
// format and back, and feeds usage into the cumulative token counters.
package openai

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
	"github.com/openai/openai-go"
)

// Options configure the OpenAI model adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	model.CumulativeUsage

	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Chat sends the transcript to the Chat Completions API and normalizes the
// first choice into a model.Response.
func (m *Model) Chat(ctx context.Context, req *model.Request) (*model.Response, error) {
	params := m.buildParams(req, buildMessages(req.Messages))

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	ch0 := resp.Choices[0]

	out := &model.Response{
		ID:           resp.ID,
		Content:      ch0.Message.Content,
		FinishReason: ch0.FinishReason,
		Usage: model.TokenUsage{
			InputTokens:      resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}

	for _, tc := range ch0.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, core.NewToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}

	m.Add(out.Usage)

	return out, nil
}

// buildMessages converts normalized messages into OpenAI chat messages.
func buildMessages(messages []core.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case core.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case core.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case core.RoleAssistant:
			if !msg.HasToolCalls() {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}

			assistant := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: extractToolCalls(msg),
			}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)}
			}

			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case core.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			if msg.Content != "" {
				out = append(out, openai.UserMessage(msg.Content))
			}
		}
	}

	return out
}

// extractToolCalls converts the assistant's recorded tool calls into OpenAI formatted tool calls.
func extractToolCalls(msg core.Message) []openai.ChatCompletionMessageToolCallParam {
	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return toolCalls
}

// buildParams assembles the OpenAI request parameters including tool
// definitions and the tool choice mode.
func (m *Model) buildParams(
	req *model.Request,
	messages []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}

	if len(req.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}
	params.Tools = tools

	switch req.ToolChoice {
	case model.ToolChoiceRequired:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}
	case model.ToolChoiceNone:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
	default:
		// The API defaults to auto when tools are present.
	}

	return params
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}

var _ model.Model = (*Model)(nil)
