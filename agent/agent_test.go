package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/bus"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/tool"
)

// eventRecorder collects bus events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []core.EventItem
}

func (r *eventRecorder) record(ev core.EventItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) named(name string) []core.EventItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.EventItem
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// newTestAgent wires an agent to a fresh bus and event recorder.
func newTestAgent(t *testing.T, llm model.Model, optFns ...func(o *Options)) (*Agent, *bus.Bus, *eventRecorder) {
	t.Helper()

	b := bus.New()
	t.Cleanup(b.Close)

	rec := &eventRecorder{}
	require.NoError(t, b.Subscribe("agent:.*", rec.record))

	fns := append([]func(o *Options){func(o *Options) { o.Bus = b }}, optFns...)
	return New("test-agent", llm, fns...), b, rec
}

func flush(t *testing.T, b *bus.Bus) {
	t.Helper()
	require.NoError(t, b.Flush(context.Background()))
}

// listingTool stands in for the sandbox filesystem tool in offline tests.
func listingTool(listing string) tool.Tool {
	return tool.NewFunctionTool(
		"filesystem",
		"List files",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation": map[string]any{"type": "string"},
				"path":      map[string]any{"type": "string"},
			},
		},
		func(context.Context, map[string]any) (any, error) { return listing, nil },
	)
}

func usage(in, out int64) model.TokenUsage {
	return model.TokenUsage{InputTokens: in, CompletionTokens: out}
}

func TestAgent_EndToEnd(t *testing.T) {
	llm := model.NewScriptedModel().
		AddToolCallResponse("Listing the directory.", usage(10, 5),
			core.NewToolCall("call-1", "filesystem", `{"operation":"list","path":"/tmp"}`)).
		AddToolCallResponse("All done.", usage(8, 3),
			core.NewToolCall("call-2", "terminate", `{"status":"success"}`))

	a, b, rec := newTestAgent(t, llm, func(o *Options) {
		o.Tools = []tool.Tool{listingTool("a.txt\nb.txt")}
	})

	result, err := a.Run(context.Background(), "list files in /tmp")
	require.NoError(t, err)
	flush(t, b)

	assert.Equal(t, core.StateFinished, a.State())
	assert.Contains(t, result, "a.txt")

	// Exactly one completed step per model turn.
	assert.Len(t, rec.named(core.EventStepStart), 2)
	assert.Len(t, rec.named(core.EventLifecycleComplete), 1)

	// The observation reached the transcript as a tool message.
	var toolMsg core.Message
	for _, msg := range a.Memory().Messages() {
		if msg.Role == core.RoleTool && msg.Name == "filesystem" {
			toolMsg = msg
		}
	}
	assert.Equal(t, "call-1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, "a.txt\nb.txt")
}

func TestAgent_ToolCallCorrelation(t *testing.T) {
	llm := model.NewScriptedModel().
		AddToolCallResponse("", usage(1, 1),
			core.NewToolCall("c1", "filesystem", `{}`),
			core.NewToolCall("c2", "filesystem", `{}`)).
		AddToolCallResponse("", usage(1, 1),
			core.NewToolCall("c3", "terminate", `{}`))

	a, b, _ := newTestAgent(t, llm, func(o *Options) {
		o.Tools = []tool.Tool{listingTool("x")}
	})

	_, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	flush(t, b)

	// Every tool message answers a call of the closest preceding assistant
	// message; no orphaned tool messages.
	msgs := a.Memory().Messages()
	var lastCalls map[string]bool
	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleAssistant:
			lastCalls = make(map[string]bool)
			for _, call := range msg.ToolCalls {
				lastCalls[call.ID] = true
			}
		case core.RoleTool:
			assert.True(t, lastCalls[msg.ToolCallID], "orphaned tool message %q", msg.ToolCallID)
		}
	}
}

func TestAgent_MaxStepsReached(t *testing.T) {
	llm := model.NewScriptedModel().
		AddTextResponse("first thought", usage(1, 1)).
		AddTextResponse("second thought", usage(1, 1))

	a, b, rec := newTestAgent(t, llm, func(o *Options) { o.MaxSteps = 2 })

	result, err := a.Run(context.Background(), "loop forever")
	require.NoError(t, err)
	flush(t, b)

	assert.Contains(t, result, "Terminated: Reached max steps (2)")
	assert.Equal(t, core.StateIdle, a.State(), "max-steps exhaustion is resumable, not fatal")
	assert.Equal(t, 0, a.Step(), "step counter resets for resumption")
	assert.Len(t, rec.named(core.EventStepMaxReached), 1)
	assert.Empty(t, rec.named(core.EventLifecycleTerminated))
}

func TestAgent_StuckDetection(t *testing.T) {
	llm := model.NewScriptedModel().
		AddTextResponse("same answer", usage(1, 1)).
		AddTextResponse("same answer", usage(1, 1)).
		AddTextResponse("same answer", usage(1, 1)).
		AddTextResponse("same answer", usage(1, 1))

	a, b, rec := newTestAgent(t, llm, func(o *Options) {
		o.MaxSteps = 4
		o.DuplicateThreshold = 2
	})

	_, err := a.Run(context.Background(), "repeat yourself")
	require.NoError(t, err)
	flush(t, b)

	// Steps 3 and 4 each see two prior exact duplicates: one detection per
	// offending step, not per duplicate message.
	assert.Len(t, rec.named(core.EventStuckDetected), 2)
	assert.Len(t, rec.named(core.EventStuckHandled), 2)

	// The step after a detection carries the strategy nudge in its prompt.
	reqs := llm.Requests()
	require.Len(t, reqs, 4)
	var lastUser core.Message
	for _, msg := range reqs[3].Messages {
		if msg.Role == core.RoleUser {
			lastUser = msg
		}
	}
	assert.True(t, strings.HasPrefix(lastUser.Content, "Observed duplicate responses."))
}

func TestAgent_TerminateToolAlwaysFinishes(t *testing.T) {
	// The payload is descriptive only: termination is name-triggered.
	llm := model.NewScriptedModel().
		AddToolCallResponse("", usage(1, 1),
			core.NewToolCall("c1", "terminate", `{"status":"failure","note":"irrelevant"}`))

	a, b, _ := newTestAgent(t, llm)

	_, err := a.Run(context.Background(), "stop")
	require.NoError(t, err)
	flush(t, b)

	assert.Equal(t, core.StateFinished, a.State())
}

func TestAgent_ObservationTruncation(t *testing.T) {
	llm := model.NewScriptedModel().
		AddToolCallResponse("", usage(1, 1),
			core.NewToolCall("c1", "filesystem", `{}`)).
		AddToolCallResponse("", usage(1, 1),
			core.NewToolCall("c2", "terminate", `{}`))

	const maxObserve = 24

	a, b, _ := newTestAgent(t, llm, func(o *Options) {
		o.MaxObserve = maxObserve
		o.Tools = []tool.Tool{listingTool(strings.Repeat("x", 500))}
	})

	_, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	flush(t, b)

	var toolMsg core.Message
	for _, msg := range a.Memory().Messages() {
		if msg.Role == core.RoleTool && msg.Name == "filesystem" {
			toolMsg = msg
		}
	}
	assert.Len(t, []rune(toolMsg.Content), maxObserve)
}

func TestAgent_ThinkErrorBecomesFailedStep(t *testing.T) {
	llm := model.NewScriptedModel().
		AddError(errors.New("model unreachable")).
		AddToolCallResponse("", usage(1, 1),
			core.NewToolCall("c1", "terminate", `{}`))

	a, b, rec := newTestAgent(t, llm, func(o *Options) { o.MaxSteps = 3 })

	result, err := a.Run(context.Background(), "go")
	require.NoError(t, err, "a failed step is a deliverable result, not a lifecycle error")
	flush(t, b)

	assert.Contains(t, result, "Step 1: Error:")
	assert.Contains(t, result, "model unreachable")
	assert.Equal(t, core.StateFinished, a.State(), "the loop continues after a failed step")
	assert.Len(t, rec.named(core.EventStepError), 1)
	assert.Len(t, rec.named(core.EventThinkError), 1)
}

func TestAgent_UnknownToolAndBadArguments(t *testing.T) {
	llm := model.NewScriptedModel().
		AddToolCallResponse("", usage(1, 1),
			core.NewToolCall("c1", "no_such_tool", `{}`),
			core.NewToolCall("c2", "filesystem", `{not json`)).
		AddToolCallResponse("", usage(1, 1),
			core.NewToolCall("c3", "terminate", `{}`))

	a, b, _ := newTestAgent(t, llm, func(o *Options) {
		o.Tools = []tool.Tool{listingTool("x")}
	})

	_, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	flush(t, b)

	var toolContents []string
	for _, msg := range a.Memory().Messages() {
		if msg.Role == core.RoleTool {
			toolContents = append(toolContents, msg.Content)
		}
	}
	require.Len(t, toolContents, 3)
	assert.Equal(t, "Error: Unknown tool 'no_such_tool'", toolContents[0])
	assert.Equal(t, "Error: Error parsing arguments for filesystem: Invalid JSON format", toolContents[1])
}

func TestAgent_TokenAccounting(t *testing.T) {
	llm := model.NewScriptedModel().
		AddToolCallResponse("", usage(10, 4),
			core.NewToolCall("c1", "terminate", `{}`))

	a, b, rec := newTestAgent(t, llm)

	_, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	flush(t, b)

	counts := rec.named(core.EventThinkTokenCount)
	require.Len(t, counts, 1)
	assert.Equal(t, int64(10), counts[0].Content["input"])
	assert.Equal(t, int64(4), counts[0].Content["completion"])
	assert.Equal(t, int64(10), counts[0].Content["total_input"])

	// The act phase made no model call: its delta is zero while the
	// cumulative totals are unchanged.
	actCounts := rec.named(core.EventActTokenCount)
	require.Len(t, actCounts, 1)
	assert.Equal(t, int64(0), actCounts[0].Content["input"])
	assert.Equal(t, int64(10), actCounts[0].Content["total_input"])
}

func TestAgent_CooperativeTermination(t *testing.T) {
	llm := model.NewScriptedModel().
		AddTextResponse("never used", usage(1, 1))

	a, b, rec := newTestAgent(t, llm)

	a.Terminate()
	a.Terminate() // idempotent

	result, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	flush(t, b)

	assert.Equal(t, "No steps executed", result)
	assert.Equal(t, core.StateFinished, a.State())
	assert.Len(t, rec.named(core.EventLifecycleTerminating), 1)
	assert.Len(t, rec.named(core.EventLifecycleTerminated), 1)
	assert.Equal(t, 0, llm.CallCount(), "no model call after termination request")
}

func TestAgent_RunRejectsNonIdle(t *testing.T) {
	llm := model.NewScriptedModel().
		AddToolCallResponse("", usage(1, 1),
			core.NewToolCall("c1", "terminate", `{}`))

	a, _, _ := newTestAgent(t, llm)

	_, err := a.Run(context.Background(), "go")
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "again")
	require.ErrorIs(t, err, ErrNotIdle)
}

func TestAgent_PlanAndSummaryPhases(t *testing.T) {
	llm := model.NewScriptedModel().
		AddTextResponse("Short task title", usage(2, 1)).
		AddTextResponse("1. do the thing\n2. terminate", usage(3, 2)).
		AddToolCallResponse("", usage(1, 1),
			core.NewToolCall("c1", "terminate", `{}`))

	a, b, rec := newTestAgent(t, llm, func(o *Options) {
		o.SummaryPrompt = "Summarize the request as a short title."
		o.PlanPrompt = "Produce a numbered plan for the request."
	})

	_, err := a.Run(context.Background(), "do the thing")
	require.NoError(t, err)
	flush(t, b)

	summaries := rec.named(core.EventLifecycleSummary)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Short task title", summaries[0].Content["summary"])

	assert.Len(t, rec.named(core.EventPlanStart), 1)
	assert.Len(t, rec.named(core.EventPlanComplete), 1)

	var planned bool
	for _, msg := range a.Memory().Messages() {
		if msg.Role == core.RoleUser && strings.HasPrefix(msg.Content, "Plan:\n") {
			planned = true
		}
	}
	assert.True(t, planned, "plan stored in the transcript as a user message")
}
