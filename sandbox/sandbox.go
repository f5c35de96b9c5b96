package sandbox

import (
	"context"
	"errors"
	"time"
)

// ErrReleased is returned when operations are invoked on a released sandbox.
var ErrReleased = errors.New("sandbox released")

// Command describes a single command execution. When Args is empty, Command
// is interpreted by the shell (pipes and redirects work); otherwise the
// binary is invoked directly with Args.
type Command struct {
	Command string
	Args    []string
	Env     []string
	Stdin   string
	Timeout time.Duration
}

// LongTermCommand runs inside a persistent terminal session identified by
// SessionID. State (cwd, shell variables, background jobs) survives across
// calls with the same id.
type LongTermCommand struct {
	SessionID string
	Command   string
	Args      []string
	Env       []string
}

// FileInfo describes a filesystem entry as reported by Stat.
type FileInfo struct {
	Exists bool
	IsDir  bool
	Size   int64
}

// Sandbox is an isolated execution environment exposing command execution
// and filesystem primitives. Implementations must be safe for concurrent use
// and must return ErrReleased after Release.
type Sandbox interface {
	// ID returns the sandbox identifier.
	ID() string

	// ExecuteCommand runs one command to completion and returns its combined
	// output. A non-zero exit status is reported inside the output, not as an
	// error; errors are reserved for infrastructure failures.
	ExecuteCommand(ctx context.Context, cmd Command) (string, error)

	// ExecuteLongTermCommand runs a command inside the persistent session
	// named by cmd.SessionID, creating the session on first use.
	ExecuteLongTermCommand(ctx context.Context, cmd LongTermCommand) (string, error)

	// ReadFile returns the content of the file at path.
	ReadFile(ctx context.Context, path string) (string, error)

	// WriteFile writes content to the file at path, creating parent
	// directories as needed.
	WriteFile(ctx context.Context, path string, content string) error

	// ListDir returns the names of the entries in the directory at path.
	ListDir(ctx context.Context, path string) ([]string, error)

	// Stat reports whether path exists and what it is.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// Release tears down sessions and other resources held by the sandbox.
	// Release is idempotent.
	Release(ctx context.Context) error
}
