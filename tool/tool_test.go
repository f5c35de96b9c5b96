package tool

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/mcp"
	"github.com/hupe1980/agentrun/sandbox"
)

// fakeSandbox records invocations and serves canned filesystem content.
type fakeSandbox struct {
	commands []sandbox.Command
	sessions []sandbox.LongTermCommand
	files    map[string]string
	dirs     map[string][]string
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{
		files: make(map[string]string),
		dirs:  make(map[string][]string),
	}
}

func (f *fakeSandbox) ID() string { return "fake" }

func (f *fakeSandbox) ExecuteCommand(_ context.Context, cmd sandbox.Command) (string, error) {
	f.commands = append(f.commands, cmd)
	return "ran: " + cmd.Command, nil
}

func (f *fakeSandbox) ExecuteLongTermCommand(_ context.Context, cmd sandbox.LongTermCommand) (string, error) {
	f.sessions = append(f.sessions, cmd)
	return fmt.Sprintf("[%s] %s", cmd.SessionID, cmd.Command), nil
}

func (f *fakeSandbox) ReadFile(_ context.Context, path string) (string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", fmt.Errorf("no such file %q", path)
	}
	return content, nil
}

func (f *fakeSandbox) WriteFile(_ context.Context, path, content string) error {
	f.files[path] = content
	return nil
}

func (f *fakeSandbox) ListDir(_ context.Context, path string) ([]string, error) {
	entries, ok := f.dirs[path]
	if !ok {
		return nil, fmt.Errorf("no such dir %q", path)
	}
	return entries, nil
}

func (f *fakeSandbox) Stat(_ context.Context, path string) (sandbox.FileInfo, error) {
	if content, ok := f.files[path]; ok {
		return sandbox.FileInfo{Exists: true, Size: int64(len(content))}, nil
	}
	if _, ok := f.dirs[path]; ok {
		return sandbox.FileInfo{Exists: true, IsDir: true}, nil
	}
	return sandbox.FileInfo{}, nil
}

func (f *fakeSandbox) Release(context.Context) error { return nil }

func TestTerminate_Execute(t *testing.T) {
	term := NewTerminate()
	assert.Equal(t, "terminate", term.Name())

	res, err := term.Execute(context.Background(), map[string]any{"status": "failure"})
	require.NoError(t, err)
	assert.Equal(t, "The interaction has been completed with status: failure", res.Text())

	// Missing status defaults to success; the payload is descriptive only.
	res, err = term.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, res.Text(), "status: success")
}

func TestRegistry_RegisterAndDefinitions(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(NewTerminate()))
	require.NoError(t, r.Register(NewBash(newFakeSandbox())))

	err := r.Register(NewTerminate())
	require.ErrorIs(t, err, ErrDuplicateTool)

	assert.Equal(t, []string{"terminate", "bash"}, r.Names())

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "terminate", defs[0].Function.Name)
	assert.Equal(t, "function", defs[0].Type)
	assert.NotEmpty(t, defs[1].Function.Description)
}

func TestBash_Execute(t *testing.T) {
	sb := newFakeSandbox()
	bash := NewBash(sb)

	res, err := bash.Execute(context.Background(), map[string]any{"command": "ls -la"})
	require.NoError(t, err)
	assert.Equal(t, "ran: ls -la", res.Text())
	require.Len(t, sb.commands, 1)

	res, err = bash.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestFilesystem_Operations(t *testing.T) {
	sb := newFakeSandbox()
	sb.dirs["/tmp"] = []string{"a.txt", "sub/"}
	fs := NewFilesystem(sb)

	res, err := fs.Execute(context.Background(), map[string]any{"operation": "list", "path": "/tmp"})
	require.NoError(t, err)
	assert.Equal(t, "a.txt\nsub/", res.Text())

	res, err = fs.Execute(context.Background(), map[string]any{"operation": "write", "path": "out.txt", "content": "hello"})
	require.NoError(t, err)
	assert.Contains(t, res.Text(), "5 bytes")

	res, err = fs.Execute(context.Background(), map[string]any{"operation": "read", "path": "out.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text())

	res, err = fs.Execute(context.Background(), map[string]any{"operation": "exists", "path": "missing"})
	require.NoError(t, err)
	assert.Contains(t, res.Text(), "does not exist")

	res, err = fs.Execute(context.Background(), map[string]any{"operation": "purge", "path": "x"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTerminal_SessionRouting(t *testing.T) {
	sb := newFakeSandbox()
	term := NewTerminal(sb)

	res, err := term.Execute(context.Background(), map[string]any{"id": "s1", "command": "cd /tmp"})
	require.NoError(t, err)
	assert.Equal(t, "[s1] cd /tmp", res.Text())

	res, err = term.Execute(context.Background(), map[string]any{"command": "pwd"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestFunctionTool_Execute(t *testing.T) {
	sum := NewFunctionTool(
		"calculate_sum",
		"Calculate the sum of two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	)

	res, err := sum.Execute(context.Background(), map[string]any{"a": 1.0, "b": 2.0})
	require.NoError(t, err)
	assert.Equal(t, "3", res.Text())

	_, err = sum.Execute(context.Background(), map[string]any{"a": 1.0})
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

// fakeMCPCaller serves a scripted tool catalog.
type fakeMCPCaller struct {
	id    string
	tools []mcp.ToolInfo
	calls []string
}

func (f *fakeMCPCaller) ID() string { return f.id }

func (f *fakeMCPCaller) ListTools(context.Context) ([]mcp.ToolInfo, error) {
	return f.tools, nil
}

func (f *fakeMCPCaller) CallTool(_ context.Context, name string, _ map[string]any) (*core.ToolResult, error) {
	f.calls = append(f.calls, name)
	return core.NewToolResult("result from " + name), nil
}

func TestRegisterMCPTools_NamespacingAndLengthLimit(t *testing.T) {
	caller := &fakeMCPCaller{
		id: "files",
		tools: []mcp.ToolInfo{
			{Name: "search", Description: "Search files"},
			{Name: strings.Repeat("x", 70), Description: "too long once namespaced"},
		},
	}

	r := NewRegistry()
	n, err := RegisterMCPTools(context.Background(), r, caller, nil)
	require.NoError(t, err)

	// The over-long name is dropped with a warning, not registered.
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"files-search"}, r.Names())

	// Invocation forwards the original, un-namespaced name.
	registered, ok := r.Get("files-search")
	require.True(t, ok)

	res, err := registered.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "result from search", res.Text())
	assert.Equal(t, []string{"search"}, caller.calls)
}
