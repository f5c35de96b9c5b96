package model

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agentrun/core"
)

func TestParseToolChoice(t *testing.T) {
	cases := map[string]ToolChoice{
		"":         ToolChoiceAuto,
		"auto":     ToolChoiceAuto,
		"required": ToolChoiceRequired,
		"none":     ToolChoiceNone,
	}
	for in, want := range cases {
		got, err := ParseToolChoice(in)
		if err != nil {
			t.Fatalf("ParseToolChoice(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseToolChoice(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseToolChoice("sometimes"); err == nil {
		t.Fatalf("expected error for unknown tool choice")
	}
}

func TestNewToolDefinition(t *testing.T) {
	def := NewToolDefinition("bash", "run a command", map[string]interface{}{"type": "object"})
	if def.Type != "function" {
		t.Fatalf("expected function type, got %q", def.Type)
	}
	if def.Function.Name != "bash" || def.Function.Description != "run a command" {
		t.Fatalf("unexpected function definition: %+v", def.Function)
	}
}

func TestScriptedModel_ReplaysInOrder(t *testing.T) {
	m := NewScriptedModel().
		AddTextResponse("first", TokenUsage{InputTokens: 10, CompletionTokens: 5}).
		AddToolCallResponse("second", TokenUsage{InputTokens: 20, CompletionTokens: 7},
			core.NewToolCall("call_1", "bash", `{"command":"ls"}`))

	resp1, err := m.Chat(context.Background(), &Request{Messages: []core.Message{core.NewUserMessage("hi")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp1.Content != "first" || len(resp1.ToolCalls) != 0 {
		t.Fatalf("unexpected first response: %+v", resp1)
	}

	resp2, err := m.Chat(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp2.Content != "second" || len(resp2.ToolCalls) != 1 || resp2.ToolCalls[0].Function.Name != "bash" {
		t.Fatalf("unexpected second response: %+v", resp2)
	}

	if m.CallCount() != 2 {
		t.Fatalf("expected 2 calls, got %d", m.CallCount())
	}
}

func TestScriptedModel_AccumulatesUsage(t *testing.T) {
	m := NewScriptedModel().
		AddTextResponse("a", TokenUsage{InputTokens: 100, CompletionTokens: 30}).
		AddTextResponse("b", TokenUsage{InputTokens: 150, CompletionTokens: 40})

	if m.TotalInputTokens() != 0 || m.TotalCompletionTokens() != 0 {
		t.Fatalf("expected zero totals before any call")
	}

	if _, err := m.Chat(context.Background(), &Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.TotalInputTokens(); got != 100 {
		t.Fatalf("expected 100 input tokens, got %d", got)
	}

	if _, err := m.Chat(context.Background(), &Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := m.TotalInputTokens(), int64(250); got != want {
		t.Fatalf("expected %d input tokens, got %d", want, got)
	}
	if got, want := m.TotalCompletionTokens(), int64(70); got != want {
		t.Fatalf("expected %d completion tokens, got %d", want, got)
	}
}

func TestScriptedModel_ErrorDoesNotConsumeUsage(t *testing.T) {
	boom := errors.New("transport down")
	m := NewScriptedModel().AddError(boom)

	_, err := m.Chat(context.Background(), &Request{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected scripted error, got %v", err)
	}
	if m.TotalInputTokens() != 0 || m.TotalCompletionTokens() != 0 {
		t.Fatalf("expected totals to stay zero after failed call")
	}
}

func TestScriptedModel_ExhaustedScript(t *testing.T) {
	m := NewScriptedModel()
	if _, err := m.Chat(context.Background(), &Request{}); err == nil {
		t.Fatalf("expected error once script is exhausted")
	}
}

func TestScriptedModel_RecordsRequests(t *testing.T) {
	m := NewScriptedModel().AddTextResponse("ok", TokenUsage{})

	req := &Request{
		Messages:   []core.Message{core.NewUserMessage("list files")},
		Tools:      []ToolDefinition{NewToolDefinition("bash", "", nil)},
		ToolChoice: ToolChoiceRequired,
	}
	if _, err := m.Chat(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := m.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 recorded request, got %d", len(reqs))
	}
	if reqs[0].ToolChoice != ToolChoiceRequired || len(reqs[0].Tools) != 1 {
		t.Fatalf("unexpected recorded request: %+v", reqs[0])
	}
}

func TestScriptedModel_RespectsContext(t *testing.T) {
	m := NewScriptedModel().AddTextResponse("never", TokenUsage{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Chat(ctx, &Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
