// Package bus implements the in-process event channel that decouples
// "something happened" from "someone reacts". Agents publish lifecycle
// events; task recorders, loggers and tests subscribe with regular
// expression patterns over the colon-delimited topic names.
//
// Regex subscriptions are deliberate: wildcard patterns (`agent:.*`,
// `agent:lifecycle:step:.*`) let one subscriber follow a whole subtree
// without enumerating topics. Patterns compile once at Subscribe.
package bus
