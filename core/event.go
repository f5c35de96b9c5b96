package core

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle event topics. Names form a colon-delimited hierarchy so that
// subscribers can match whole subtrees with a single pattern (for example
// `agent:.*` or `agent:lifecycle:step:.*`).
const (
	EventLifecycleStart       = "agent:lifecycle:start"
	EventLifecycleSummary     = "agent:lifecycle:summary"
	EventLifecycleComplete    = "agent:lifecycle:complete"
	EventLifecycleTerminating = "agent:lifecycle:terminating"
	EventLifecycleTerminated  = "agent:lifecycle:terminated"

	EventPrepareStart    = "agent:lifecycle:prepare:start"
	EventPrepareComplete = "agent:lifecycle:prepare:complete"
	EventPlanStart       = "agent:lifecycle:plan:start"
	EventPlanComplete    = "agent:lifecycle:plan:complete"

	EventStateChange    = "agent:lifecycle:state:change"
	EventStuckDetected  = "agent:lifecycle:state:stuck_detected"
	EventStuckHandled   = "agent:lifecycle:state:stuck_handled"
	EventStepMaxReached = "agent:lifecycle:step_max_reached"
	EventMemoryAdded    = "agent:lifecycle:memory:added"

	EventStepStart    = "agent:lifecycle:step:start"
	EventStepComplete = "agent:lifecycle:step:complete"
	EventStepError    = "agent:lifecycle:step:error"

	EventThinkStart      = "agent:lifecycle:step:think:start"
	EventThinkComplete   = "agent:lifecycle:step:think:complete"
	EventThinkError      = "agent:lifecycle:step:think:error"
	EventThinkTokenCount = "agent:lifecycle:step:think:token:count"
	EventToolSelected    = "agent:lifecycle:step:think:tool:selected"

	EventActStart      = "agent:lifecycle:step:act:start"
	EventActComplete   = "agent:lifecycle:step:act:complete"
	EventActError      = "agent:lifecycle:step:act:error"
	EventActTokenCount = "agent:lifecycle:step:act:token:count"

	EventToolStart           = "agent:lifecycle:step:act:tool:start"
	EventToolComplete        = "agent:lifecycle:step:act:tool:complete"
	EventToolError           = "agent:lifecycle:step:act:tool:error"
	EventToolExecuteStart    = "agent:lifecycle:step:act:tool:execute:start"
	EventToolExecuteComplete = "agent:lifecycle:step:act:tool:execute:complete"
)

// EventItem is the unit of observability emitted by an agent run. After
// emission it must be treated as immutable. It captures:
//   - Correlation (ID, optional ParentID)
//   - The hierarchical topic Name
//   - The agent's step counter at emission time
//   - A high precision UTC timestamp
//   - An arbitrary structured payload
//
// Step reflects the owning agent's counter when the event was created, not a
// sequence number: two events produced in the same step are ordered only by
// emission order.
type EventItem struct {
	ID        string         `json:"id"`
	ParentID  string         `json:"parent_id,omitempty"`
	Name      string         `json:"name"`
	Step      int            `json:"step"`
	Timestamp time.Time      `json:"timestamp"`
	Content   map[string]any `json:"content,omitempty"`
}

// NewEventItem creates an event for the given topic, step and payload.
// Content may be nil for pure signal events.
func NewEventItem(name string, step int, content map[string]any) EventItem {
	return EventItem{
		ID:        NewID(),
		Name:      name,
		Step:      step,
		Timestamp: time.Now().UTC(),
		Content:   content,
	}
}

// WithParent returns a copy of the event with ParentID set, used to link a
// sub-event (per-call tool execution, token accounting) to its enclosing
// phase event.
func (e EventItem) WithParent(parentID string) EventItem {
	e.ParentID = parentID
	return e
}

// NewID generates a new unique identifier for events, tasks and runs.
//
// Returns a string representation of a new UUID.
func NewID() string { return uuid.NewString() }

// UnixSeconds returns the timestamp as fractional seconds since Unix epoch.
// Useful for metrics & numeric serialization paths.
func (e EventItem) UnixSeconds() float64 { return float64(e.Timestamp.UnixNano()) / 1e9 }
