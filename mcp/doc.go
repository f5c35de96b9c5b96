// Package mcp connects AgentRun to Model Context Protocol servers.
//
// A Client wraps one MCP server connection (SSE or stdio transport),
// handles the initialize handshake, and exposes the server's tools through
// ListTools / CallTool in AgentRun's normalized shapes. Registering the
// discovered tools with a tool.Registry is handled by tool.RegisterMCPTools,
// which also applies the client-id prefix and name length policy.
package mcp
