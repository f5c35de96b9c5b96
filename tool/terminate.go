package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrun/core"
)

// TerminateToolName is reserved: the orchestrator treats a call to this name
// as the model's signal that the task is complete.
const TerminateToolName = "terminate"

const terminateDescription = `Terminate the interaction when the request is met OR if the assistant cannot proceed further with the task.
When you have finished all the tasks, call this tool to end the work.`

// Terminate lets the model end the run and report a finish status.
type Terminate struct{}

// NewTerminate creates the terminate tool.
func NewTerminate() *Terminate { return &Terminate{} }

// Name implements Tool.
func (t *Terminate) Name() string { return TerminateToolName }

// Description implements Tool.
func (t *Terminate) Description() string { return terminateDescription }

// Parameters implements Tool.
func (t *Terminate) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"status": map[string]interface{}{
				"type":        "string",
				"description": "The finish status of the interaction.",
				"enum":        []string{"success", "failure"},
			},
		},
		"required": []string{"status"},
	}
}

// Execute implements Tool.
func (t *Terminate) Execute(ctx context.Context, args map[string]interface{}) (*core.ToolResult, error) {
	status, _ := args["status"].(string)
	if status == "" {
		status = "success"
	}
	return core.NewToolResult(fmt.Sprintf("The interaction has been completed with status: %s", status)), nil
}

var _ Tool = (*Terminate)(nil)
