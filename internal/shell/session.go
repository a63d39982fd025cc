// Package shell maintains a persistent sandboxed POSIX shell so
// working directory and environment changes survive between tool calls
// in a conversation. Commands are delimited with a per-call marker line
// carrying the exit code; a dead shell respawns on the next call.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/executor"
)

const (
	defaultTimeout     = 120 * time.Second
	defaultOutputLimit = 1 << 20
)

// envNameRe matches POSIX environment variable names.
var envNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidEnvName reports whether name is a legal environment variable
// name. Callers must check before splicing names into shell input.
func ValidEnvName(name string) bool {
	return envNameRe.MatchString(name)
}

// Quote single-quotes a string for safe interpolation into shell input.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Config tunes one shell session.
type Config struct {
	WorkspaceDir     string
	Timeout          time.Duration
	OutputLimit      int
	NetworkIsolation bool
}

// Result is the outcome of one command run inside the session. Stderr
// is interleaved into Output in arrival order.
type Result struct {
	Output    string `json:"output"`
	ExitCode  int    `json:"exit_code"`
	Truncated bool   `json:"truncated"`
}

// Session is a single long-lived shell process. Calls serialize on the
// internal lock: the marker protocol cannot multiplex concurrent
// commands over one stdin.
type Session struct {
	mu  sync.Mutex
	cfg Config
	log *logger.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   *bufio.Reader

	// newShell is swapped in tests to bypass sandbox detection.
	newShell func() *exec.Cmd
}

// NewSession creates a session; the shell process starts lazily on the
// first Run.
func NewSession(cfg Config, log *logger.Logger) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = defaultOutputLimit
	}
	s := &Session{cfg: cfg, log: log}
	s.newShell = func() *exec.Cmd {
		return executor.SandboxedShell(executor.Config{
			WorkspaceDir:     cfg.WorkspaceDir,
			NetworkIsolation: cfg.NetworkIsolation,
		})
	}
	return s
}

// Run executes a command inside the session and waits for its marker
// line. On timeout or context cancellation the shell is killed so the
// stuck command cannot poison later calls; the next Run respawns.
func (s *Session) Run(ctx context.Context, command string) (*Result, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		if err := s.spawnLocked(); err != nil {
			return nil, err
		}
	}

	marker := "__steward_done_" + uuid.NewString() + "__"
	script := fmt.Sprintf("%s\nprintf '\\n%%s %%d\\n' %s \"$?\"\n", command, Quote(marker))
	if _, err := io.WriteString(s.stdin, script); err != nil {
		s.killLocked()
		return nil, fmt.Errorf("shell session write failed: %w", err)
	}

	type outcome struct {
		output string
		exit   int
		err    error
	}
	done := make(chan outcome, 1)
	out := s.out
	go func() {
		var lines []string
		for {
			line, err := out.ReadString('\n')
			if err != nil {
				done <- outcome{err: fmt.Errorf("shell session ended unexpectedly: %w", err)}
				return
			}
			line = strings.TrimSuffix(line, "\n")
			if code, ok := parseMarker(line, marker); ok {
				// The marker's leading newline turns a trailing newline
				// in the command output into one empty element; drop it
				// so the output comes back without it.
				if n := len(lines); n > 0 && lines[n-1] == "" {
					lines = lines[:n-1]
				}
				done <- outcome{output: strings.Join(lines, "\n"), exit: code}
				return
			}
			lines = append(lines, line)
		}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			s.killLocked()
			return nil, o.err
		}
		output, truncated := executor.Truncate(o.output, s.cfg.OutputLimit)
		return &Result{Output: output, ExitCode: o.exit, Truncated: truncated}, nil

	case <-time.After(s.cfg.Timeout):
		s.killLocked()
		return nil, fmt.Errorf("shell command timed out after %d seconds", int(s.cfg.Timeout.Seconds()))

	case <-ctx.Done():
		s.killLocked()
		return nil, ctx.Err()
	}
}

// Close terminates the shell process if one is running.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
}

// spawnLocked starts a fresh sandboxed shell and redirects its stderr
// into stdout so later commands interleave both streams.
func (s *Session) spawnLocked() error {
	cmd := s.newShell()
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open shell stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open shell stdout: %w", err)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start shell session: %w", err)
	}
	go func() { _ = cmd.Wait() }()

	s.cmd = cmd
	s.stdin = stdin
	s.out = bufio.NewReader(stdout)

	if _, err := io.WriteString(stdin, "exec 2>&1\n"); err != nil {
		s.killLocked()
		return fmt.Errorf("failed to initialize shell session: %w", err)
	}
	s.log.Debug("shell session started", zap.Int("pid", cmd.Process.Pid))
	return nil
}

// killLocked tears down the shell process group. The session stays
// usable: the next Run spawns a replacement.
func (s *Session) killLocked() {
	if s.cmd == nil {
		return
	}
	if s.cmd.Process != nil {
		if err := syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL); err != nil {
			_ = s.cmd.Process.Kill()
		}
	}
	_ = s.stdin.Close()
	s.cmd = nil
	s.stdin = nil
	s.out = nil
}

// parseMarker checks whether a line is the end-of-command marker and
// extracts its exit code.
func parseMarker(line, marker string) (int, bool) {
	rest, ok := strings.CutPrefix(line, marker+" ")
	if !ok {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}
	return code, true
}
