// Package task exposes agent runs to external callers. A Registry owns the
// full lifecycle of every task: it spawns the agent goroutine, records each
// lifecycle event into an append-only history, serves ordered replay-then-
// live subscriptions, and removes finished tasks after a grace period. An
// optional sqlite-backed Store keeps task snapshots and histories durable
// beyond the in-memory lifetime.
package task
