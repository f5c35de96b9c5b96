package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrun/logging"
)

const (
	// DefaultTimeout bounds a single command execution.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxOutputBytes caps the combined output of one command.
	DefaultMaxOutputBytes = 100_000
)

// LocalOptions configure a Local sandbox.
type LocalOptions struct {
	// WorkDir is the confinement root for commands and file operations.
	// Defaults to a per-sandbox directory under the system temp dir.
	WorkDir string

	// DefaultTimeout applies when a Command carries no timeout of its own.
	DefaultTimeout time.Duration

	// MaxOutputBytes caps command output before the truncation marker.
	MaxOutputBytes int

	Logger logging.Logger
}

// Local executes commands directly on the host under a confined work
// directory. Long-term commands run in persistent pty sessions, one per
// session id.
type Local struct {
	id             string
	workDir        string
	timeout        time.Duration
	maxOutputBytes int
	logger         logging.Logger

	mu       sync.Mutex
	sessions map[string]*session
	released bool
}

// NewLocal creates a Local sandbox rooted at the configured work directory,
// creating it if needed.
func NewLocal(id string, optFns ...func(o *LocalOptions)) (*Local, error) {
	opts := LocalOptions{
		DefaultTimeout: DefaultTimeout,
		MaxOutputBytes: DefaultMaxOutputBytes,
		Logger:         logging.NewNoOpLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "agentrun", id)
	}
	if !filepath.IsAbs(workDir) {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return nil, fmt.Errorf("resolve work dir %q: %w", workDir, err)
		}
		workDir = abs
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir %q: %w", workDir, err)
	}

	return &Local{
		id:             id,
		workDir:        workDir,
		timeout:        opts.DefaultTimeout,
		maxOutputBytes: opts.MaxOutputBytes,
		logger:         opts.Logger,
		sessions:       make(map[string]*session),
	}, nil
}

// ID implements Sandbox.
func (s *Local) ID() string { return s.id }

// WorkDir returns the confinement root.
func (s *Local) WorkDir() string { return s.workDir }

func (s *Local) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	return nil
}

// resolvePath maps path into the work dir and rejects traversal outside it.
func (s *Local) resolvePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path must not be empty")
	}

	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(s.workDir, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(s.workDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the sandbox work dir", path)
	}

	return resolved, nil
}

// ExecuteCommand implements Sandbox. The command runs with the work dir as
// cwd; a missing Args slice routes the command string through sh -c.
func (s *Local) ExecuteCommand(ctx context.Context, cmd Command) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	if cmd.Command == "" {
		return "", fmt.Errorf("command must not be empty")
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var c *exec.Cmd
	if len(cmd.Args) > 0 {
		c = exec.CommandContext(ctx, cmd.Command, cmd.Args...)
	} else {
		c = exec.CommandContext(ctx, "sh", "-c", cmd.Command)
	}
	c.Dir = s.workDir
	c.Env = append(os.Environ(), cmd.Env...)
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdout, stderr strings.Builder
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()

	return s.buildOutput(stdout.String(), stderr.String(), err, ctx, timeout)
}

// buildOutput merges stdout/stderr, applies the output cap and folds the
// exit status into the text so the model sees failures as observations.
func (s *Local) buildOutput(stdoutStr, stderrStr string, err error, ctx context.Context, timeout time.Duration) (string, error) {
	var parts []string
	if stdoutStr != "" {
		parts = append(parts, stdoutStr)
	}
	if stderrStr != "" {
		for _, line := range strings.Split(strings.TrimSpace(stderrStr), "\n") {
			parts = append(parts, "[stderr] "+line)
		}
	}

	output := strings.Join(parts, "\n")

	if len(output) > s.maxOutputBytes {
		output = output[:s.maxOutputBytes]
		output += fmt.Sprintf("\n\n... Output truncated at %d bytes.", s.maxOutputBytes)
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		case ctx.Err() != nil:
			return fmt.Sprintf("Error: Command timed out after %.1f seconds.", timeout.Seconds()), nil
		default:
			return "", fmt.Errorf("execute command: %w", err)
		}
	}

	if exitCode != 0 {
		if output == "" {
			return fmt.Sprintf("Exit code: %d", exitCode), nil
		}
		return strings.TrimRight(output, "\n") + fmt.Sprintf("\n\nExit code: %d", exitCode), nil
	}

	return output, nil
}

// ExecuteLongTermCommand implements Sandbox. The session named by
// cmd.SessionID is created on first use and lives until Release.
func (s *Local) ExecuteLongTermCommand(ctx context.Context, cmd LongTermCommand) (string, error) {
	if cmd.SessionID == "" {
		return "", fmt.Errorf("long-term command requires a session id")
	}
	if cmd.Command == "" {
		return "", fmt.Errorf("command must not be empty")
	}

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return "", ErrReleased
	}
	sess, ok := s.sessions[cmd.SessionID]
	if !ok {
		var err error
		sess, err = newSession(cmd.SessionID, s.workDir, cmd.Env, s.logger)
		if err != nil {
			s.mu.Unlock()
			return "", err
		}
		s.sessions[cmd.SessionID] = sess
	}
	s.mu.Unlock()

	return sess.Run(ctx, shellJoin(cmd.Command, cmd.Args))
}

// ReadFile implements Sandbox.
func (s *Local) ReadFile(ctx context.Context, path string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	resolved, err := s.resolvePath(path)
	if err != nil {
		return "", err
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read file %q: %w", path, err)
	}
	return string(content), nil
}

// WriteFile implements Sandbox.
func (s *Local) WriteFile(ctx context.Context, path string, content string) error {
	if err := s.guard(); err != nil {
		return err
	}
	resolved, err := s.resolvePath(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %q: %w", path, err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write file %q: %w", path, err)
	}
	return nil
}

// ListDir implements Sandbox.
func (s *Local) ListDir(ctx context.Context, path string) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	resolved, err := s.resolvePath(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("list dir %q: %w", path, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return names, nil
}

// Stat implements Sandbox. A missing path is not an error.
func (s *Local) Stat(ctx context.Context, path string) (FileInfo, error) {
	if err := s.guard(); err != nil {
		return FileInfo{}, err
	}
	resolved, err := s.resolvePath(path)
	if err != nil {
		return FileInfo{}, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, nil
		}
		return FileInfo{}, fmt.Errorf("stat %q: %w", path, err)
	}

	return FileInfo{Exists: true, IsDir: info.IsDir(), Size: info.Size()}, nil
}

// Release implements Sandbox: closes every terminal session and marks the
// sandbox unusable.
func (s *Local) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true

	var errs []error
	for id, sess := range s.sessions {
		if err := sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %q: %w", id, err))
		}
	}
	s.sessions = nil

	s.logger.Debug("sandbox.released", "id", s.id)

	return errors.Join(errs...)
}

// shellQuote safely quotes a string for shell use.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// shellJoin builds a single shell line from a command and its arguments.
// The command itself is passed through untouched so shell lines keep working.
func shellJoin(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, command)
	for _, arg := range args {
		quoted = append(quoted, shellQuote(arg))
	}
	return strings.Join(quoted, " ")
}

var _ Sandbox = (*Local)(nil)
