package agent

import (
	"context"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
)

// StepUsage breaks down the token cost of one step. Think and Act are deltas
// against watermarks of the model's cumulative counters recorded immediately
// before each phase; Total is the cumulative counter value after the step.
// The deltas are only meaningful because phases execute strictly
// sequentially: no concurrent model calls happen within one agent.
type StepUsage struct {
	Think model.TokenUsage `json:"think"`
	Act   model.TokenUsage `json:"act"`
	Total model.TokenUsage `json:"total"`
}

// StepResult is the outcome of one Think/Act cycle.
type StepResult struct {
	Success bool      `json:"success"`
	Result  string    `json:"result"`
	Usage   StepUsage `json:"usage"`
}

// runStep performs one Think/Act cycle. Errors inside either phase are
// converted to a failed StepResult at this boundary: the lifecycle treats a
// failed step as a deliverable result and continues looping.
func (a *Agent) runStep(ctx context.Context) StepResult {
	var usage StepUsage

	stepEv := a.emit(core.EventStepStart, nil)

	// Think phase: ask the model what to do.
	a.emitChild(core.EventThinkStart, stepEv.ID, nil)

	prompt, err := a.nextStepPromptText()
	if err != nil {
		return a.failStep(stepEv.ID, usage, err)
	}

	thinkMark := a.usageWatermark()
	shouldAct, err := a.orch.askTool(ctx, prompt)
	usage.Think = a.usageDelta(thinkMark)
	a.emitTokenCount(core.EventThinkTokenCount, stepEv.ID, usage.Think)

	if err != nil {
		a.emitChild(core.EventThinkError, stepEv.ID, map[string]any{"error": err.Error()})
		return a.failStep(stepEv.ID, usage, err)
	}

	a.emitChild(core.EventThinkComplete, stepEv.ID, map[string]any{"should_act": shouldAct})

	if !shouldAct {
		usage.Total = a.usageTotal()
		a.emitChild(core.EventStepComplete, stepEv.ID, map[string]any{"success": true})
		return StepResult{Success: true, Result: "Thinking complete - no action needed", Usage: usage}
	}

	// Cooperative cancellation point between Think and Act: a termination
	// request observed here skips the Act phase entirely.
	if a.Terminated() {
		usage.Total = a.usageTotal()
		return StepResult{Success: true, Result: "Terminated by request", Usage: usage}
	}

	// Act phase: execute the chosen tool calls.
	a.emitChild(core.EventActStart, stepEv.ID, nil)

	actMark := a.usageWatermark()
	result, err := a.orch.executeTools(ctx)
	usage.Act = a.usageDelta(actMark)
	a.emitTokenCount(core.EventActTokenCount, stepEv.ID, usage.Act)

	if err != nil {
		a.emitChild(core.EventActError, stepEv.ID, map[string]any{"error": err.Error()})
		return a.failStep(stepEv.ID, usage, err)
	}

	a.emitChild(core.EventActComplete, stepEv.ID, map[string]any{"result": result})

	usage.Total = a.usageTotal()
	a.emitChild(core.EventStepComplete, stepEv.ID, map[string]any{"success": true})

	return StepResult{Success: true, Result: result, Usage: usage}
}

func (a *Agent) failStep(parentID string, usage StepUsage, err error) StepResult {
	usage.Total = a.usageTotal()
	a.emitChild(core.EventStepError, parentID, map[string]any{"error": err.Error()})
	a.logger.Error("agent.step.error", "agent", a.name, "step", a.Step(), "error", err.Error())
	return StepResult{Success: false, Result: "Error: " + err.Error(), Usage: usage}
}

// usageWatermark snapshots the model's cumulative counters before a phase.
func (a *Agent) usageWatermark() model.TokenUsage {
	return model.TokenUsage{
		InputTokens:      a.llm.TotalInputTokens(),
		CompletionTokens: a.llm.TotalCompletionTokens(),
	}
}

// usageDelta computes the phase cost against a watermark.
func (a *Agent) usageDelta(mark model.TokenUsage) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:      a.llm.TotalInputTokens() - mark.InputTokens,
		CompletionTokens: a.llm.TotalCompletionTokens() - mark.CompletionTokens,
	}
}

// usageTotal reads the cumulative counters.
func (a *Agent) usageTotal() model.TokenUsage {
	return model.TokenUsage{
		InputTokens:      a.llm.TotalInputTokens(),
		CompletionTokens: a.llm.TotalCompletionTokens(),
	}
}

func (a *Agent) emitTokenCount(name, parentID string, delta model.TokenUsage) {
	a.emitChild(name, parentID, map[string]any{
		"input":            delta.InputTokens,
		"completion":       delta.CompletionTokens,
		"total_input":      a.llm.TotalInputTokens(),
		"total_completion": a.llm.TotalCompletionTokens(),
	})
}
