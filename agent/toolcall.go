package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
)

// orchestrator turns one model response into zero or more tool invocations.
// It holds the tool-choice mode, the pending calls extracted from the last
// Think phase and the observation truncation limit. Calls always execute
// strictly sequentially: a tool's side effects may depend on the prior
// tool's completion.
type orchestrator struct {
	agent        *Agent
	toolChoice   model.ToolChoice
	specialTools []string
	maxObserve   int

	pending []core.ToolCall
}

// askTool runs the Think phase: it appends the step prompt, sends the full
// transcript plus tool schemas to the model, records the assistant's answer
// and decides whether an Act phase should follow.
func (o *orchestrator) askTool(ctx context.Context, prompt string) (bool, error) {
	a := o.agent

	if prompt != "" {
		a.addMessage(core.NewUserMessage(prompt))
	}

	resp, err := a.llm.Chat(ctx, &model.Request{
		Messages:   a.memory.Messages(),
		Tools:      a.registry.Definitions(),
		ToolChoice: o.toolChoice,
	})
	if err != nil {
		return false, fmt.Errorf("think: %w", err)
	}

	o.pending = resp.ToolCalls

	a.emit(core.EventToolSelected, map[string]any{
		"thoughts":   resp.Content,
		"tool_calls": describeCalls(resp.ToolCalls),
	})

	if len(resp.ToolCalls) > 0 {
		a.addMessage(core.NewToolCallMessage(resp.Content, resp.ToolCalls))
	} else if resp.Content != "" {
		a.addMessage(core.NewAssistantMessage(resp.Content))
	}

	// Should-act decision table per tool-choice mode.
	switch o.toolChoice {
	case model.ToolChoiceNone:
		return resp.Content != "", nil
	case model.ToolChoiceRequired:
		return true, nil
	default: // auto: a text-only answer still counts as a completed turn
		if len(resp.ToolCalls) == 0 {
			return resp.Content != "", nil
		}
		return true, nil
	}
}

// executeTools runs the Act phase over the pending calls. With no pending
// calls, the last assistant text is the step's result. Each call yields
// exactly one tool message keyed by the call id, with the observation
// truncated to maxObserve characters.
func (o *orchestrator) executeTools(ctx context.Context) (string, error) {
	a := o.agent

	if len(o.pending) == 0 {
		if o.toolChoice == model.ToolChoiceRequired {
			return "", fmt.Errorf("tool calls required but none provided")
		}
		if last, ok := a.memory.LastMessage(); ok && last.Content != "" {
			return last.Content, nil
		}
		return "No content or commands to execute", nil
	}

	calls := o.pending
	o.pending = nil

	startEv := a.emit(core.EventToolStart, map[string]any{"tool_calls": describeCalls(calls)})

	results := make([]string, 0, len(calls))
	for _, call := range calls {
		observation := o.executeCall(ctx, startEv.ID, call)

		if o.maxObserve > 0 {
			observation = truncate(observation, o.maxObserve)
		}

		a.addMessage(core.NewToolMessage(observation, call.ID, call.Function.Name))
		results = append(results, observation)
	}

	a.emitChild(core.EventToolComplete, startEv.ID, map[string]any{"results": results})

	return strings.Join(results, "\n\n"), nil
}

// executeCall resolves and invokes one tool call, converting every failure
// mode (unknown tool, malformed arguments, execution error, panic) into an
// observation string rather than an error.
func (o *orchestrator) executeCall(ctx context.Context, parentID string, call core.ToolCall) string {
	a := o.agent
	name := call.Function.Name

	a.emitChild(core.EventToolExecuteStart, parentID, map[string]any{
		"id":        call.ID,
		"name":      name,
		"arguments": call.Function.Arguments,
	})

	t, ok := a.registry.Get(name)
	if !ok {
		msg := fmt.Sprintf("Error: Unknown tool '%s'", name)
		a.emitChild(core.EventToolError, parentID, map[string]any{"id": call.ID, "name": name, "error": msg})
		return msg
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			msg := fmt.Sprintf("Error: Error parsing arguments for %s: Invalid JSON format", name)
			a.logger.Warn("agent.tool.bad_arguments", "tool", name, "error", err.Error())
			a.emitChild(core.EventToolError, parentID, map[string]any{"id": call.ID, "name": name, "error": msg})
			return msg
		}
	}

	result, err := safeExecute(ctx, t.Execute, args)

	if o.isSpecial(name) {
		a.logger.Info("agent.special_tool", "tool", name)
		a.finish()
	}

	if err != nil {
		text := fmt.Sprintf("Error: %v", err)
		a.emitChild(core.EventToolExecuteComplete, parentID, map[string]any{"id": call.ID, "name": name, "error": text})
		return text
	}

	text := result.Text()
	if result.IsError && !strings.HasPrefix(text, "Error") {
		text = "Error: " + text
	}

	a.emitChild(core.EventToolExecuteComplete, parentID, map[string]any{"id": call.ID, "name": name, "result": text})

	if text == "" {
		return fmt.Sprintf("Cmd `%s` completed with no output", name)
	}
	return fmt.Sprintf("Observed output of cmd `%s` executed:\n%s", name, text)
}

// isSpecial reports whether the named tool carries lifecycle meaning.
// Matching is by name only, case-insensitive: termination is name-triggered,
// never content-inspected.
func (o *orchestrator) isSpecial(name string) bool {
	for _, special := range o.specialTools {
		if strings.EqualFold(name, special) {
			return true
		}
	}
	return false
}

// safeExecute invokes a tool with panic recovery so a misbehaving tool
// becomes an error observation instead of tearing down the run loop.
func safeExecute(
	ctx context.Context,
	fn func(ctx context.Context, args map[string]any) (*core.ToolResult, error),
	args map[string]any,
) (result *core.ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()

	return fn(ctx, args)
}

// describeCalls flattens calls into a loggable payload.
func describeCalls(calls []core.ToolCall) []map[string]any {
	out := make([]map[string]any, 0, len(calls))
	for _, c := range calls {
		out = append(out, map[string]any{
			"id":        c.ID,
			"name":      c.Function.Name,
			"arguments": c.Function.Arguments,
		})
	}
	return out
}

// truncate cuts s to at most n characters (code points, not bytes).
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
