package task

import (
	"errors"

	"github.com/hupe1980/agentrun/core"
)

// ErrTaskNotFound is returned for unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// Status is the external-facing task state.
type Status string

const (
	// StatusPending means the agent run is still in progress.
	StatusPending Status = "pending"
	// StatusCompleted means the agent returned a result.
	StatusCompleted Status = "completed"
	// StatusFailed means the agent lifecycle itself raised an error.
	StatusFailed Status = "failed"
)

// IsTerminal reports whether the status ends the task.
func (s Status) IsTerminal() bool { return s == StatusCompleted || s == StatusFailed }

// Task is a point-in-time snapshot of one task: its status, the recorded
// event history in emission order, and the result or error once terminal.
// History is append-only until the task reaches a terminal status.
type Task struct {
	ID      string           `json:"id"`
	Status  Status           `json:"status"`
	History []core.EventItem `json:"history"`
	Result  string           `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand to callers.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	clone.History = make([]core.EventItem, len(t.History))
	copy(clone.History, t.History)
	return &clone
}
