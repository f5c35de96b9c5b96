package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/hupe1980/agentrun/logging"
)

// sessionReadTimeout bounds how long one long-term command may run before
// the read loop gives up on its output.
const sessionReadTimeout = 120 * time.Second

// session is one persistent bash terminal backed by a pty. Commands are
// delimited with a sentinel line so their exact output can be captured while
// shell state (cwd, variables, background jobs) carries over between calls.
type session struct {
	id     string
	cmd    *exec.Cmd
	ptmx   *os.File
	logger logging.Logger

	mu     sync.Mutex
	seq    int
	closed bool
}

func newSession(id, workDir string, env []string, logger logging.Logger) (*session, error) {
	cmd := exec.Command("bash", "--norc", "--noprofile")
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "TERM=dumb", "PS1=", "PS2=")
	cmd.Env = append(cmd.Env, env...)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start terminal session %q: %w", id, err)
	}

	s := &session{id: id, cmd: cmd, ptmx: ptmx, logger: logger}

	// Quiet the terminal: no input echo, no prompts. Whatever output this
	// produces is drained before the first command runs.
	if _, err := ptmx.WriteString("stty -echo; export PS1='' PS2=''\n"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("initialize terminal session %q: %w", id, err)
	}
	s.drain(200 * time.Millisecond)

	logger.Debug("sandbox.session.started", "id", id)

	return s, nil
}

// drain reads and discards pending output until the pty stays idle.
func (s *session) drain(idle time.Duration) {
	buf := make([]byte, 4096)
	for {
		_ = s.ptmx.SetReadDeadline(time.Now().Add(idle))
		if n, err := s.ptmx.Read(buf); n == 0 || err != nil {
			break
		}
	}
	_ = s.ptmx.SetReadDeadline(time.Time{})
}

// Run executes one command line and returns its output. The command is
// followed by a sentinel print carrying the exit status; the read loop stops
// once the sentinel line arrives.
func (s *session) Run(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrReleased
	}

	s.seq++
	marker := fmt.Sprintf("__AGENTRUN_DONE_%d__", s.seq)

	if _, err := fmt.Fprintf(s.ptmx, "%s; printf '\\n%s %%s\\n' $?\n", command, marker); err != nil {
		return "", fmt.Errorf("write to terminal session %q: %w", s.id, err)
	}

	deadline := time.Now().Add(sessionReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var buf strings.Builder
	chunk := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		_ = s.ptmx.SetReadDeadline(deadline)
		n, err := s.ptmx.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}

		if output, code, found := cutAtMarker(buf.String(), marker); found {
			return finishSessionOutput(output, code), nil
		}

		if err != nil {
			if os.IsTimeout(err) {
				return "", fmt.Errorf("terminal session %q: command timed out", s.id)
			}
			return "", fmt.Errorf("read from terminal session %q: %w", s.id, err)
		}
	}
}

// Close kills the shell and releases the pty. Safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.ptmx.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()

	return nil
}

// cutAtMarker scans accumulated pty output for the sentinel line and, when
// found, returns everything before it plus the captured exit status.
func cutAtMarker(raw, marker string) (output, exitCode string, found bool) {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasPrefix(trimmed, marker+" ") {
			return strings.Join(lines[:i], "\n"), strings.TrimSpace(strings.TrimPrefix(trimmed, marker+" ")), true
		}
	}
	return "", "", false
}

func finishSessionOutput(output, exitCode string) string {
	output = strings.ReplaceAll(output, "\r", "")
	output = strings.TrimRight(output, "\n")

	if exitCode != "" && exitCode != "0" {
		if output == "" {
			return "Exit code: " + exitCode
		}
		return output + "\n\nExit code: " + exitCode
	}
	return output
}
