package core

import "testing"

func TestAgentState_String(t *testing.T) {
	cases := []struct {
		state AgentState
		want  string
	}{
		{StateIdle, "idle"},
		{StateRunning, "running"},
		{StateFinished, "finished"},
		{StateError, "error"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("String(%d) = %q, want %q", int(c.state), got, c.want)
		}
	}
}

func TestAgentState_IsTerminal(t *testing.T) {
	if StateIdle.IsTerminal() || StateRunning.IsTerminal() {
		t.Error("idle/running must not be terminal")
	}
	if !StateFinished.IsTerminal() || !StateError.IsTerminal() {
		t.Error("finished/error must be terminal")
	}
}

func TestParseAgentState(t *testing.T) {
	for _, name := range []string{"idle", "running", "finished", "error"} {
		s, err := ParseAgentState(name)
		if err != nil {
			t.Fatalf("ParseAgentState(%q) unexpected error: %v", name, err)
		}
		if s.String() != name {
			t.Errorf("roundtrip mismatch: %q -> %q", name, s.String())
		}
	}

	// Unknown names are rejected, never silently accepted.
	if _, err := ParseAgentState("paused"); err == nil {
		t.Error("expected error for unknown state name")
	}
	if _, err := ParseAgentState(""); err == nil {
		t.Error("expected error for empty state name")
	}
}
