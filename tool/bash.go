package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/sandbox"
)

// BashToolName identifies the one-shot shell execution tool.
const BashToolName = "bash"

const bashDescription = `Execute a bash command in the sandbox.
Each call runs in a fresh shell: working directory and environment do not persist between calls.
Use the terminal tool when state must survive across commands.`

// BashOptions configure a Bash tool.
type BashOptions struct {
	// DefaultTimeout applies when the model passes no timeout argument.
	DefaultTimeout time.Duration
}

// Bash runs one-shot shell commands through the agent's sandbox. Output
// (stdout, stderr and the exit status) comes back as a single observation.
type Bash struct {
	sandbox sandbox.Sandbox
	timeout time.Duration
}

// NewBash creates a bash tool bound to the given sandbox.
func NewBash(sb sandbox.Sandbox, optFns ...func(o *BashOptions)) *Bash {
	opts := BashOptions{DefaultTimeout: 300 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Bash{sandbox: sb, timeout: opts.DefaultTimeout}
}

// Name implements Tool.
func (t *Bash) Name() string { return BashToolName }

// Description implements Tool.
func (t *Bash) Description() string { return bashDescription }

// Parameters implements Tool.
func (t *Bash) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to execute.",
			},
			"timeout": map[string]interface{}{
				"type":        "number",
				"description": "Optional timeout in seconds.",
			},
		},
		"required": []string{"command"},
	}
}

// Execute implements Tool. Command failures (non-zero exit, timeout) are
// folded into the result text; an error is returned only for infrastructure
// failures.
func (t *Bash) Execute(ctx context.Context, args map[string]interface{}) (*core.ToolResult, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return core.NewErrorResult("Error: 'command' argument is required"), nil
	}

	timeout := t.timeout
	if secs, ok := args["timeout"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	output, err := t.sandbox.ExecuteCommand(ctx, sandbox.Command{
		Command: command,
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("bash: %w", err)
	}

	return core.NewToolResult(output), nil
}

var _ Tool = (*Bash)(nil)
