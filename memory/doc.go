// Package memory holds the bounded conversation transcript an agent feeds to
// its model. The transcript is the model's only view of history: ordered,
// size-bounded, oldest-first eviction with no cross-reference repair.
//
// Rationale: keeping the transcript as its own small package (instead of a
// field on the agent) lets tests and observers inspect conversation state
// without importing agent internals.
package memory
