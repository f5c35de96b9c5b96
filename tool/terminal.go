package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/sandbox"
)

// TerminalToolName identifies the persistent terminal-session tool.
const TerminalToolName = "terminal"

const terminalDescription = `Run a command in a persistent terminal session.
Sessions are keyed by id: working directory, shell variables and background
processes survive between calls with the same id. Use distinct ids for
independent workstreams.`

// Terminal routes commands into the sandbox's long-lived pty sessions.
type Terminal struct {
	sandbox sandbox.Sandbox
}

// NewTerminal creates a terminal tool bound to the given sandbox.
func NewTerminal(sb sandbox.Sandbox) *Terminal {
	return &Terminal{sandbox: sb}
}

// Name implements Tool.
func (t *Terminal) Name() string { return TerminalToolName }

// Description implements Tool.
func (t *Terminal) Description() string { return terminalDescription }

// Parameters implements Tool.
func (t *Terminal) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Terminal session identifier. Reuse an id to continue a session.",
			},
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to run inside the session.",
			},
		},
		"required": []string{"id", "command"},
	}
}

// Execute implements Tool.
func (t *Terminal) Execute(ctx context.Context, args map[string]interface{}) (*core.ToolResult, error) {
	id, _ := args["id"].(string)
	command, _ := args["command"].(string)
	if id == "" {
		return core.NewErrorResult("Error: 'id' argument is required"), nil
	}
	if command == "" {
		return core.NewErrorResult("Error: 'command' argument is required"), nil
	}

	output, err := t.sandbox.ExecuteLongTermCommand(ctx, sandbox.LongTermCommand{
		SessionID: id,
		Command:   command,
	})
	if err != nil {
		return nil, fmt.Errorf("terminal session %q: %w", id, err)
	}

	return core.NewToolResult(output), nil
}

var _ Tool = (*Terminal)(nil)
