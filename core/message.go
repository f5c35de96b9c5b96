package core

// Conversation roles understood by model clients.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation transcript. Tool responses carry
// the ToolCallID of the assistant call they answer; this id correlation is
// the only cross-reference between a request and its response.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// NewSystemMessage creates a system role message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user role message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message carrying plain text.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolCallMessage creates an assistant message that requests tool
// invocations. Content may be empty when the model produced calls only.
func NewToolCallMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolMessage creates a tool role message answering the call with the
// given id.
func NewToolMessage(content, toolCallID, name string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID, Name: name}
}

// HasToolCalls reports whether the message requests any tool invocations.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }
