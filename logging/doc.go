// Package logging provides a minimal logging interface and adapters for AgentRun.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, tools and transports use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - New, building slog handlers from config (text, json, or tint's pretty output)
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.New(&logging.Config{Level: logging.LogLevelDebug, Format: "pretty"})
//	registry := task.New(factory, func(o *task.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
