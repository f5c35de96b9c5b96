package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/sandbox/retry"
)

// DefaultDaemonDialTimeout bounds one connection attempt to the daemon.
const DefaultDaemonDialTimeout = 5 * time.Second

// daemonRequest is the JSON command sent to the execution daemon.
type daemonRequest struct {
	ID      string `json:"id"`
	Cmd     string `json:"cmd"`
	Workdir string `json:"workdir,omitempty"`
	Stdin   string `json:"stdin,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

// daemonResponse is the JSON result from the execution daemon.
type daemonResponse struct {
	ID       string `json:"id"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// DaemonOptions configure a Daemon sandbox.
type DaemonOptions struct {
	// WorkDir is the remote working directory for every command.
	WorkDir string

	// DefaultTimeout applies when a Command carries no timeout of its own.
	DefaultTimeout time.Duration

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration

	// MaxOutputBytes caps command output before the truncation marker.
	MaxOutputBytes int

	// Retry governs reconnects and transient request failures.
	Retry retry.Policy

	Logger logging.Logger
}

// Daemon executes commands on a remote sandbox daemon over a line-delimited
// JSON protocol. Requests are serialized on one connection; a broken
// connection is redialed transparently on the next call. All filesystem
// primitives are expressed as shell commands on the remote side.
type Daemon struct {
	id          string
	network     string
	addr        string
	workDir     string
	timeout     time.Duration
	dialTimeout time.Duration
	maxOutput   int
	retryPolicy retry.Policy
	logger      logging.Logger

	mu       sync.Mutex
	conn     net.Conn
	enc      *json.Encoder
	scanner  *bufio.Scanner
	released bool

	nextID atomic.Int64
}

// NewDaemon connects to a sandbox daemon and verifies it responds. network
// is "tcp" or "unix"; addr is e.g. "10.0.0.7:9090" or "/run/agentrun.sock".
func NewDaemon(ctx context.Context, id, network, addr string, optFns ...func(o *DaemonOptions)) (*Daemon, error) {
	opts := DaemonOptions{
		WorkDir:        "/",
		DefaultTimeout: DefaultTimeout,
		DialTimeout:    DefaultDaemonDialTimeout,
		MaxOutputBytes: DefaultMaxOutputBytes,
		Retry:          retry.DefaultPolicy(),
		Logger:         logging.NewNoOpLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	d := &Daemon{
		id:          id,
		network:     network,
		addr:        addr,
		workDir:     opts.WorkDir,
		timeout:     opts.DefaultTimeout,
		dialTimeout: opts.DialTimeout,
		maxOutput:   opts.MaxOutputBytes,
		retryPolicy: opts.Retry,
		logger:      opts.Logger,
	}

	err := d.retryPolicy.Do(ctx, func(ctx context.Context) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		if err := d.connectLocked(); err != nil {
			return err
		}
		resp, err := d.requestLocked(ctx, "echo ok", "", 5*time.Second)
		if err != nil {
			return err
		}
		if resp.ExitCode != 0 {
			return retry.Transient(fmt.Errorf("daemon ping failed: exit %d", resp.ExitCode))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect daemon sandbox %q: %w", id, err)
	}

	d.logger.Debug("sandbox.daemon.connected", "id", id, "addr", addr)

	return d, nil
}

// connectLocked dials the daemon. Callers hold d.mu.
func (d *Daemon) connectLocked() error {
	if d.conn != nil {
		return nil
	}

	conn, err := net.DialTimeout(d.network, d.addr, d.dialTimeout)
	if err != nil {
		return fmt.Errorf("daemon dial %s://%s: %w", d.network, d.addr, err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024) // 10MB max response

	d.conn = conn
	d.enc = json.NewEncoder(conn)
	d.scanner = scanner

	return nil
}

// requestLocked performs one request/response exchange. Callers hold d.mu.
// Connection failures mark the connection broken and come back transient so
// the retry policy redials.
func (d *Daemon) requestLocked(ctx context.Context, cmd, stdin string, timeout time.Duration) (*daemonResponse, error) {
	req := daemonRequest{
		ID:      fmt.Sprintf("r%d", d.nextID.Add(1)),
		Cmd:     cmd,
		Workdir: d.workDir,
		Stdin:   stdin,
		Timeout: int(timeout.Seconds()),
	}

	readDeadline := time.Now().Add(timeout + 5*time.Second)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(readDeadline) {
		readDeadline = deadline
	}
	_ = d.conn.SetWriteDeadline(readDeadline)

	if err := d.enc.Encode(req); err != nil {
		d.dropConnLocked()
		return nil, retry.Transient(fmt.Errorf("daemon send: %w", err))
	}

	_ = d.conn.SetReadDeadline(readDeadline)

	if !d.scanner.Scan() {
		err := d.scanner.Err()
		d.dropConnLocked()
		if err != nil {
			return nil, retry.Transient(fmt.Errorf("daemon read: %w", err))
		}
		return nil, retry.Transient(fmt.Errorf("daemon connection closed"))
	}

	var resp daemonResponse
	if err := json.Unmarshal(d.scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("daemon response parse: %w", err)
	}

	return &resp, nil
}

func (d *Daemon) dropConnLocked() {
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
}

// exec runs one remote command through the retry policy.
func (d *Daemon) exec(ctx context.Context, cmd, stdin string, timeout time.Duration) (*daemonResponse, error) {
	if timeout <= 0 {
		timeout = d.timeout
	}

	var resp *daemonResponse
	err := d.retryPolicy.Do(ctx, func(ctx context.Context) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.released {
			return ErrReleased
		}
		if err := d.connectLocked(); err != nil {
			return err
		}
		r, err := d.requestLocked(ctx, cmd, stdin, timeout)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("daemon: %s", resp.Error)
	}
	return resp, nil
}

// ID implements Sandbox.
func (d *Daemon) ID() string { return d.id }

// ExecuteCommand implements Sandbox.
func (d *Daemon) ExecuteCommand(ctx context.Context, cmd Command) (string, error) {
	if cmd.Command == "" {
		return "", fmt.Errorf("command must not be empty")
	}

	line := shellJoin(cmd.Command, cmd.Args)
	if len(cmd.Env) > 0 {
		quoted := make([]string, 0, len(cmd.Env)+1)
		quoted = append(quoted, "env")
		for _, kv := range cmd.Env {
			quoted = append(quoted, shellQuote(kv))
		}
		line = strings.Join(quoted, " ") + " " + line
	}

	resp, err := d.exec(ctx, line, cmd.Stdin, cmd.Timeout)
	if err != nil {
		return "", err
	}

	return d.buildOutput(resp), nil
}

// buildOutput folds stdout/stderr and the exit status into one observation,
// mirroring the Local backend's shape.
func (d *Daemon) buildOutput(resp *daemonResponse) string {
	output := resp.Stdout
	if output == "" && resp.Stderr != "" {
		output = resp.Stderr
	} else if resp.ExitCode != 0 && resp.Stderr != "" {
		output = strings.TrimRight(output, "\n") + "\n" + resp.Stderr
	}

	if len(output) > d.maxOutput {
		output = output[:d.maxOutput]
		output += fmt.Sprintf("\n\n... Output truncated at %d bytes.", d.maxOutput)
	}

	if resp.ExitCode != 0 {
		if output == "" {
			return fmt.Sprintf("Exit code: %d", resp.ExitCode)
		}
		return strings.TrimRight(output, "\n") + fmt.Sprintf("\n\nExit code: %d", resp.ExitCode)
	}

	return output
}

// ExecuteLongTermCommand implements Sandbox. The daemon protocol is
// stateless, so session state is limited to the shared remote work dir;
// each call executes independently.
func (d *Daemon) ExecuteLongTermCommand(ctx context.Context, cmd LongTermCommand) (string, error) {
	if cmd.SessionID == "" {
		return "", fmt.Errorf("long-term command requires a session id")
	}
	return d.ExecuteCommand(ctx, Command{Command: cmd.Command, Args: cmd.Args, Env: cmd.Env})
}

// ReadFile implements Sandbox.
func (d *Daemon) ReadFile(ctx context.Context, path string) (string, error) {
	resp, err := d.exec(ctx, "cat "+shellQuote(path), "", 0)
	if err != nil {
		return "", err
	}
	if resp.ExitCode != 0 {
		return "", fmt.Errorf("read file %q: %s", path, strings.TrimSpace(resp.Stderr))
	}
	return resp.Stdout, nil
}

// WriteFile implements Sandbox. Content travels via stdin to avoid any
// quoting limits on the remote side.
func (d *Daemon) WriteFile(ctx context.Context, path string, content string) error {
	dir := shellQuote(remoteDir(path))
	resp, err := d.exec(ctx, "mkdir -p "+dir+" && cat > "+shellQuote(path), content, 0)
	if err != nil {
		return err
	}
	if resp.ExitCode != 0 {
		return fmt.Errorf("write file %q: %s", path, strings.TrimSpace(resp.Stderr))
	}
	return nil
}

// ListDir implements Sandbox.
func (d *Daemon) ListDir(ctx context.Context, path string) ([]string, error) {
	resp, err := d.exec(ctx, "ls -1Ap "+shellQuote(path), "", 0)
	if err != nil {
		return nil, err
	}
	if resp.ExitCode != 0 {
		return nil, fmt.Errorf("list dir %q: %s", path, strings.TrimSpace(resp.Stderr))
	}

	var names []string
	for _, line := range strings.Split(resp.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// Stat implements Sandbox.
func (d *Daemon) Stat(ctx context.Context, path string) (FileInfo, error) {
	q := shellQuote(path)
	resp, err := d.exec(ctx, fmt.Sprintf("if [ -d %s ]; then echo dir; elif [ -e %s ]; then wc -c < %s; else echo missing; fi", q, q, q), "", 0)
	if err != nil {
		return FileInfo{}, err
	}
	if resp.ExitCode != 0 {
		return FileInfo{}, fmt.Errorf("stat %q: %s", path, strings.TrimSpace(resp.Stderr))
	}

	switch out := strings.TrimSpace(resp.Stdout); out {
	case "dir":
		return FileInfo{Exists: true, IsDir: true}, nil
	case "missing":
		return FileInfo{}, nil
	default:
		size, err := strconv.ParseInt(out, 10, 64)
		if err != nil {
			return FileInfo{}, fmt.Errorf("stat %q: unexpected daemon output %q", path, out)
		}
		return FileInfo{Exists: true, Size: size}, nil
	}
}

// Release implements Sandbox.
func (d *Daemon) Release(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil
	}
	d.released = true
	d.dropConnLocked()

	d.logger.Debug("sandbox.released", "id", d.id)

	return nil
}

// remoteDir returns the parent directory of a remote slash-separated path.
func remoteDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "."
	}
	return path[:idx]
}

var _ Sandbox = (*Daemon)(nil)
