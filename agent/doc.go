// Package agent implements the task-execution engine: a lifecycle state
// machine that drives repeated Think/Act steps until the model signals
// completion, the caller terminates the run, or the step budget is spent.
//
// One Agent owns one Memory transcript, one tool Registry and (lazily) one
// sandbox handle. Think asks the model what to do; Act executes the chosen
// tool calls strictly sequentially and writes the observations back into the
// transcript. Every internal transition is published to the event bus as an
// ordered stream of core.EventItem values.
package agent
