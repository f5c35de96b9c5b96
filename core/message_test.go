package core

import "testing"

func TestMessage_Constructors(t *testing.T) {
	sys := NewSystemMessage("be helpful")
	if sys.Role != RoleSystem || sys.Content != "be helpful" {
		t.Fatalf("system message malformed: %+v", sys)
	}

	user := NewUserMessage("hi")
	if user.Role != RoleUser || user.Content != "hi" {
		t.Fatalf("user message malformed: %+v", user)
	}

	asst := NewAssistantMessage("hello")
	if asst.Role != RoleAssistant || asst.HasToolCalls() {
		t.Fatalf("assistant message malformed: %+v", asst)
	}

	calls := []ToolCall{NewToolCall("call-1", "bash", `{"command":"ls"}`)}
	withCalls := NewToolCallMessage("thinking", calls)
	if !withCalls.HasToolCalls() || withCalls.ToolCalls[0].Function.Name != "bash" {
		t.Fatalf("tool-call message malformed: %+v", withCalls)
	}
	if withCalls.ToolCalls[0].Type != "function" {
		t.Fatalf("tool call type must be function: %+v", withCalls.ToolCalls[0])
	}

	toolMsg := NewToolMessage("output", "call-1", "bash")
	if toolMsg.Role != RoleTool || toolMsg.ToolCallID != "call-1" || toolMsg.Name != "bash" {
		t.Fatalf("tool message malformed: %+v", toolMsg)
	}
}

func TestToolResult_Text(t *testing.T) {
	r := NewToolResult("hello")
	if r.IsError || r.Text() != "hello" {
		t.Fatalf("text result malformed: %+v", r)
	}

	e := NewErrorResult("boom")
	if !e.IsError || e.Text() != "boom" {
		t.Fatalf("error result malformed: %+v", e)
	}

	multi := &ToolResult{Content: []ContentBlock{
		{Type: "text", Text: "a"},
		{Type: "text"},
		{Type: "text", Text: "b"},
	}}
	if multi.Text() != "a\nb" {
		t.Fatalf("multi-block join wrong: %q", multi.Text())
	}

	var nilResult *ToolResult
	if nilResult.Text() != "" {
		t.Error("nil result should render empty text")
	}
}
