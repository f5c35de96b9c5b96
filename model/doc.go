// Package model defines the provider-agnostic abstractions and concrete
// helpers for interacting with chat models inside AgentRun.
//
// Core goals:
//   - Normalize tool / function call representation (ToolDefinition, core.ToolCall)
//   - Keep request/response shapes minimal and transport independent
//   - Expose cumulative token counters so agents can account per-step deltas
//   - Facilitate deterministic scripting for tests (ScriptedModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so higher layers (agents, tasks) remain decoupled from vendor SDKs.
package model
