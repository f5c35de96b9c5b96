package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/mcp"
)

// MaxMCPToolNameLength is the hard limit imposed by the function-schema
// consumer on the model side. Namespaced names beyond it cannot be exposed.
const MaxMCPToolNameLength = 64

// MCPCaller is the slice of the MCP client the tool adapter needs. The
// concrete implementation is *mcp.Client; tests substitute fakes.
type MCPCaller interface {
	ID() string
	ListTools(ctx context.Context) ([]mcp.ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*core.ToolResult, error)
}

// MCPTool exposes one tool discovered on an MCP server. The registered name
// is namespaced as "{clientID}-{toolName}" so tools from different servers
// cannot collide; invocation forwards the original, un-namespaced name.
type MCPTool struct {
	caller MCPCaller
	name   string // namespaced
	remote string // server-side name
	info   mcp.ToolInfo
}

// NewMCPTool wraps a discovered MCP tool description.
func NewMCPTool(caller MCPCaller, info mcp.ToolInfo) *MCPTool {
	return &MCPTool{
		caller: caller,
		name:   fmt.Sprintf("%s-%s", caller.ID(), info.Name),
		remote: info.Name,
		info:   info,
	}
}

// Name implements Tool, returning the namespaced name.
func (t *MCPTool) Name() string { return t.name }

// Description implements Tool.
func (t *MCPTool) Description() string {
	if t.info.Description != "" {
		return t.info.Description
	}
	return fmt.Sprintf("Tool %s provided by MCP server %s", t.remote, t.caller.ID())
}

// Parameters implements Tool.
func (t *MCPTool) Parameters() map[string]interface{} {
	if t.info.InputSchema != nil {
		return t.info.InputSchema
	}
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

// Execute implements Tool by forwarding to the originating MCP server.
func (t *MCPTool) Execute(ctx context.Context, args map[string]interface{}) (*core.ToolResult, error) {
	return t.caller.CallTool(ctx, t.remote, args)
}

// RegisterMCPTools discovers the caller's tools and registers them under
// namespaced names. Any namespaced name longer than MaxMCPToolNameLength is
// dropped with a warning rather than registered. Returns the number of tools
// registered.
func RegisterMCPTools(ctx context.Context, registry *Registry, caller MCPCaller, logger logging.Logger) (int, error) {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	infos, err := caller.ListTools(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tools on %q: %w", caller.ID(), err)
	}

	registered := 0
	for _, info := range infos {
		t := NewMCPTool(caller, info)

		if len(t.Name()) > MaxMCPToolNameLength {
			logger.Warn("mcp.tool.skipped",
				"server", caller.ID(),
				"tool", info.Name,
				"reason", "namespaced name exceeds 64 characters",
			)
			continue
		}

		if err := registry.Register(t); err != nil {
			return registered, fmt.Errorf("register MCP tool %q: %w", t.Name(), err)
		}
		registered++
	}

	logger.Debug("mcp.tools.registered", "server", caller.ID(), "count", registered)

	return registered, nil
}

var _ Tool = (*MCPTool)(nil)
