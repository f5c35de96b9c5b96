package agent

import (
	"fmt"

	"github.com/hupe1980/agentrun/internal/util"
)

// DefaultSystemPrompt seeds the transcript when no system prompt is
// configured.
const DefaultSystemPrompt = `You are an autonomous agent that completes tasks by calling tools.
Work step by step: inspect the environment, act, observe the result, and continue.
When the request is fully satisfied, or you cannot make further progress, call the terminate tool.`

// DefaultNextStepPrompt is rendered before every Think phase. It is a Go
// template over the fields of PromptState.
const DefaultNextStepPrompt = `You are on step {{.CurrentStep}} of at most {{.MaxSteps}} ({{.RemainingSteps}} remaining).
Decide the next action. If the task is complete, call the terminate tool.`

// stuckNudge is injected when duplicate responses are detected. It precedes
// the regular next-step prompt for exactly one step.
const stuckNudge = `Observed duplicate responses. Consider new strategies and avoid repeating ineffective paths already attempted.`

// PromptState carries the values available to the next-step prompt template.
type PromptState struct {
	MaxSteps       int
	CurrentStep    int
	RemainingSteps int
}

// renderPrompt expands a prompt template against the given state.
func renderPrompt(text string, state PromptState) (string, error) {
	rendered, err := util.RenderTemplate(text, map[string]any{
		"MaxSteps":       state.MaxSteps,
		"CurrentStep":    state.CurrentStep,
		"RemainingSteps": state.RemainingSteps,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return rendered, nil
}
