// Package core provides the foundational domain types shared across AgentRun.
// It defines the vocabulary the rest of the system speaks:
//
//   - Messages (the conversation transcript entries fed to models)
//   - ToolCall / ToolResult (the request/response pair of a tool invocation)
//   - EventItem plus the hierarchical lifecycle topic constants
//   - AgentState (idle / running / finished / error)
//
// The package intentionally keeps implementation concerns (model transports,
// tool execution, task orchestration) out of scope, exposing plain data types
// so higher packages can depend on it without cycles.
package core
