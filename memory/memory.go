package memory

import (
	"sync"

	"github.com/hupe1980/agentrun/core"
)

// DefaultMaxMessages bounds the transcript when no override is given.
const DefaultMaxMessages = 100

// Options configures a Memory instance.
type Options struct {
	// MaxMessages caps the number of retained messages. Values < 1 fall back
	// to DefaultMaxMessages.
	MaxMessages int
}

// Memory is the ordered, insertion-order-significant conversation transcript
// an agent feeds to its model. It keeps only the most recent MaxMessages
// entries: once the bound is reached the oldest messages are evicted first,
// silently, with no cross-reference repair — callers must not assume
// long-range references (tool call ids, quoted content) survive eviction.
//
// Writes come from a single owner (the agent / its orchestrator); reads are
// internally locked so observers may inspect the transcript safely.
type Memory struct {
	mu          sync.RWMutex
	maxMessages int
	messages    []core.Message
}

// New creates an empty transcript.
func New(optFns ...func(o *Options)) *Memory {
	opts := Options{MaxMessages: DefaultMaxMessages}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxMessages < 1 {
		opts.MaxMessages = DefaultMaxMessages
	}

	return &Memory{maxMessages: opts.MaxMessages}
}

// AddMessage appends a message, evicting the oldest entries beyond the bound.
func (m *Memory) AddMessage(msg core.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, msg)
	if overflow := len(m.messages) - m.maxMessages; overflow > 0 {
		m.messages = append([]core.Message(nil), m.messages[overflow:]...)
	}
}

// AddMessages appends messages in order.
func (m *Memory) AddMessages(msgs ...core.Message) {
	for _, msg := range msgs {
		m.AddMessage(msg)
	}
}

// Messages returns a defensive copy of the current transcript.
func (m *Memory) Messages() []core.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// RecentMessages returns a copy of the last n messages (all when n exceeds
// the transcript length).
func (m *Memory) RecentMessages(n int) []core.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 {
		return []core.Message{}
	}
	if n > len(m.messages) {
		n = len(m.messages)
	}
	out := make([]core.Message, n)
	copy(out, m.messages[len(m.messages)-n:])
	return out
}

// LastMessage returns the most recent message, if any.
func (m *Memory) LastMessage() (core.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.messages) == 0 {
		return core.Message{}, false
	}
	return m.messages[len(m.messages)-1], true
}

// LastAssistantMessage returns the most recent assistant message, if any.
// Stuck-loop detection compares its content against earlier responses.
func (m *Memory) LastAssistantMessage() (core.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Role == core.RoleAssistant {
			return m.messages[i], true
		}
	}
	return core.Message{}, false
}

// Len returns the number of retained messages.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// Clear drops the whole transcript.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}
