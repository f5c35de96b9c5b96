package core

import "fmt"

// AgentState enumerates the lifecycle states of an agent.
type AgentState int

const (
	// StateIdle means the agent is ready to accept a run.
	StateIdle AgentState = iota
	// StateRunning means a run loop is in progress.
	StateRunning
	// StateFinished means the run reached a terminal success outcome.
	StateFinished
	// StateError means the run aborted with an unrecovered error.
	StateError
)

// String returns the lowercase state name.
func (s AgentState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsTerminal reports whether the state ends a run.
func (s AgentState) IsTerminal() bool { return s == StateFinished || s == StateError }

// ParseAgentState converts a state name into an AgentState. Unknown names are
// rejected with an error, never coerced.
func ParseAgentState(name string) (AgentState, error) {
	switch name {
	case "idle":
		return StateIdle, nil
	case "running":
		return StateRunning, nil
	case "finished":
		return StateFinished, nil
	case "error":
		return StateError, nil
	default:
		return StateIdle, fmt.Errorf("unknown agent state %q", name)
	}
}
