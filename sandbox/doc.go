// Package sandbox provides the isolated execution environments agents run
// their effects in: shell commands, persistent terminal sessions and
// filesystem primitives behind one narrow interface.
//
// Two backends are included. Local runs commands on the host under a
// confined work directory; long-term commands get a persistent pty session
// per session id. Daemon speaks a line-delimited JSON protocol to a remote
// execution daemon over TCP, which is where the retry policy earns its keep.
//
// Handles are acquired through a Manager whose GetOrCreate is idempotent:
// asking for the same id twice returns the same live handle. All transient
// infrastructure failures are retried with exponential backoff and full
// jitter by this package; callers see an error only once retries are
// exhausted.
package sandbox
