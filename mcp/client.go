package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
)

// Transport names accepted in Config.Transport.
const (
	TransportSSE   = "sse"
	TransportStdio = "stdio"
)

// Config describes how to reach one MCP server.
type Config struct {
	// ID identifies the server; it becomes the prefix of every tool name
	// exposed by this client.
	ID string `yaml:"id" json:"id"`

	// Transport selects the wire protocol: "sse" or "stdio".
	Transport string `yaml:"transport" json:"transport"`

	// URL and Headers configure the SSE transport.
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Command, Args and Env configure the stdio transport.
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
	Env     []string `yaml:"env,omitempty" json:"env,omitempty"`
}

// ToolInfo describes one tool advertised by an MCP server.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// Options configure a Client.
type Options struct {
	Logger        logging.Logger
	ClientName    string
	ClientVersion string
}

// Client is a live connection to one MCP server.
type Client struct {
	id     string
	impl   client.MCPClient
	logger logging.Logger
}

// Connect establishes the transport, performs the initialize handshake and
// returns a ready Client. The caller owns the returned Client and must Close
// it when done.
func Connect(ctx context.Context, cfg Config, optFns ...func(o *Options)) (*Client, error) {
	opts := Options{
		Logger:        logging.NewNoOpLogger(),
		ClientName:    "agentrun",
		ClientVersion: "1.0.0",
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if cfg.ID == "" {
		return nil, fmt.Errorf("mcp: config requires an id")
	}

	impl, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    opts.ClientName,
		Version: opts.ClientVersion,
	}

	if _, err := impl.Initialize(ctx, initReq); err != nil {
		_ = impl.Close()
		return nil, fmt.Errorf("mcp: initialize %q: %w", cfg.ID, err)
	}

	opts.Logger.Debug("mcp.client.connected", "id", cfg.ID, "transport", cfg.Transport)

	return &Client{id: cfg.ID, impl: impl, logger: opts.Logger}, nil
}

func dial(ctx context.Context, cfg Config) (client.MCPClient, error) {
	switch cfg.Transport {
	case TransportStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcp: stdio transport for %q requires a command", cfg.ID)
		}
		impl, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("mcp: start stdio client %q: %w", cfg.ID, err)
		}
		return impl, nil
	case TransportSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp: sse transport for %q requires a url", cfg.ID)
		}
		var sseOpts []client.ClientOption
		if len(cfg.Headers) > 0 {
			sseOpts = append(sseOpts, client.WithHeaders(cfg.Headers))
		}
		impl, err := client.NewSSEMCPClient(cfg.URL, sseOpts...)
		if err != nil {
			return nil, fmt.Errorf("mcp: create sse client %q: %w", cfg.ID, err)
		}
		if err := impl.Start(ctx); err != nil {
			return nil, fmt.Errorf("mcp: start sse client %q: %w", cfg.ID, err)
		}
		return impl, nil
	default:
		return nil, fmt.Errorf("mcp: unknown transport %q for %q", cfg.Transport, cfg.ID)
	}
}

// ID returns the configured client id.
func (c *Client) ID() string { return c.id }

// ListTools fetches the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	result, err := c.impl.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp: list tools on %q: %w", c.id, err)
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}

	c.logger.Debug("mcp.client.tools_listed", "id", c.id, "count", len(tools))

	return tools, nil
}

// CallTool invokes a tool by its server-side name (without the client-id
// prefix) and converts the result into AgentRun's content blocks.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*core.ToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := c.impl.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp: call tool %q on %q: %w", name, c.id, err)
	}

	result := &core.ToolResult{IsError: res.IsError}
	for _, content := range res.Content {
		switch v := content.(type) {
		case mcp.TextContent:
			result.Content = append(result.Content, core.ContentBlock{Type: "text", Text: v.Text})
		default:
			// Non-text content is surfaced as its JSON encoding.
			if b, err := json.Marshal(v); err == nil {
				result.Content = append(result.Content, core.ContentBlock{Type: "text", Text: string(b)})
			}
		}
	}

	return result, nil
}

// Close tears down the transport.
func (c *Client) Close() error {
	if err := c.impl.Close(); err != nil {
		return fmt.Errorf("mcp: close %q: %w", c.id, err)
	}
	return nil
}

func schemaToMap(s mcp.ToolInputSchema) map[string]interface{} {
	schema := map[string]interface{}{"type": "object"}
	if s.Type != "" {
		schema["type"] = s.Type
	}
	if len(s.Properties) > 0 {
		schema["properties"] = s.Properties
	}
	if len(s.Required) > 0 {
		schema["required"] = s.Required
	}
	return schema
}
