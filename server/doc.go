// Package server exposes the task registry over HTTP: JSON endpoints for
// task creation, status and termination, an SSE stream replaying and
// following a task's event history, and a websocket bridge into the task
// sandbox's persistent terminal sessions.
package server
