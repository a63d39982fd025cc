// Package executor runs shell commands for tools behind layered guards:
// a global enable switch, a blocked-pattern filter, human approval, OS
// sandboxing when available, and timeout enforcement with output caps.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/common/logger"
)

// Sentinel errors for the guard layers. Each Execute failure wraps one
// of these so callers can branch without string matching.
var (
	ErrDisabled = errors.New("command execution is disabled")
	ErrBlocked  = errors.New("command blocked by safety filter")
	ErrDenied   = errors.New("command execution denied")
	ErrTimeout  = errors.New("command execution timed out")
)

// Approver asks for permission to run a command. Satisfied by
// *approval.Gateway.
type Approver interface {
	Request(ctx context.Context, conversationID, description string, sandboxed bool) (bool, error)
}

// Result is the outcome of a completed command. A non-zero exit code is
// a normal result carried in ExitCode, never an error.
type Result struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
	Truncated bool   `json:"truncated"`
}

// Config tunes one executor instance.
type Config struct {
	// Enabled gates all execution; everything is rejected when false.
	Enabled bool

	// WorkspaceDir, when set, becomes the working directory and is
	// bound read-write inside the sandbox.
	WorkspaceDir string

	// Timeout bounds one command run.
	Timeout time.Duration

	// StdoutLimit and StderrLimit cap each stream independently, in
	// bytes. Zero selects the defaults.
	StdoutLimit int
	StderrLimit int

	// NetworkIsolation removes network access inside the sandbox.
	NetworkIsolation bool
}

const (
	defaultTimeout     = 120 * time.Second
	defaultStdoutLimit = 1 << 20 // 1 MiB
	defaultStderrLimit = 256 << 10
)

// Executor is shared by every stream; per-call state (conversation id,
// command) arrives as arguments so the instance itself stays stateless
// beyond configuration.
type Executor struct {
	cfg      Config
	approver Approver
	log      *logger.Logger

	// canSandbox is swapped in tests to force a deterministic answer.
	canSandbox func() bool
}

// New creates an executor. The approver must not be nil: even
// auto-approve modes are the gateway's decision, not the executor's.
func New(cfg Config, approver Approver, log *logger.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.StdoutLimit <= 0 {
		cfg.StdoutLimit = defaultStdoutLimit
	}
	if cfg.StderrLimit <= 0 {
		cfg.StderrLimit = defaultStderrLimit
	}
	return &Executor{
		cfg:        cfg,
		approver:   approver,
		log:        log,
		canSandbox: CanSandbox,
	}
}

// Execute runs a shell command through every guard layer, in order:
// enable switch, blocked-pattern filter, sandbox detection, approval,
// then the timed run with output truncation.
func (e *Executor) Execute(ctx context.Context, conversationID, command string) (*Result, error) {
	if !e.cfg.Enabled {
		return nil, fmt.Errorf("%w; set execution.enabled in the steward config to allow it", ErrDisabled)
	}

	if pattern := FirstBlockedPattern(command); pattern != "" {
		e.log.Warn("command rejected by safety filter",
			zap.String("conversation_id", conversationID),
			zap.String("pattern", pattern))
		return nil, fmt.Errorf("%w: command contains %q", ErrBlocked, pattern)
	}

	sandboxed := e.canSandbox()

	approved, err := e.approver.Request(ctx, conversationID, command, sandboxed)
	if err != nil {
		return nil, fmt.Errorf("approval failed: %w", err)
	}
	if !approved {
		return nil, fmt.Errorf("%w by user", ErrDenied)
	}

	e.log.Debug("executing command",
		zap.String("conversation_id", conversationID),
		zap.Bool("sandboxed", sandboxed),
		zap.Duration("timeout", e.cfg.Timeout))

	stdout, stderr, exitCode, err := e.runCommand(ctx, command, sandboxed)
	if err != nil {
		return nil, err
	}
	return e.truncateOutput(stdout, stderr, exitCode), nil
}

// runCommand starts the (possibly sandboxed) shell in its own process
// group and enforces the timeout by killing the whole group, so
// children of the shell cannot outlive it.
func (e *Executor) runCommand(ctx context.Context, command string, sandboxed bool) (stdout, stderr []byte, exitCode int, err error) {
	var cmd *exec.Cmd
	if sandboxed {
		cmd, err = e.sandboxedCommand(command)
		if err != nil {
			return nil, nil, 0, err
		}
	} else {
		cmd = exec.Command("/bin/bash", "-c", command)
		if e.cfg.WorkspaceDir != "" {
			cmd.Dir = e.cfg.WorkspaceDir
		}
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case waitErr := <-done:
		exitCode = 0
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				exitCode = exitErr.ExitCode()
			} else {
				return nil, nil, 0, fmt.Errorf("command failed: %w", waitErr)
			}
		}
		return outBuf.Bytes(), errBuf.Bytes(), exitCode, nil

	case <-time.After(e.cfg.Timeout):
		e.killGroup(cmd)
		<-done
		return nil, nil, 0, fmt.Errorf("%w after %d seconds", ErrTimeout, int(e.cfg.Timeout.Seconds()))

	case <-ctx.Done():
		e.killGroup(cmd)
		<-done
		return nil, nil, 0, ctx.Err()
	}
}

func (e *Executor) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		e.log.Warn("failed to kill process group, killing process",
			zap.Int("pid", cmd.Process.Pid), zap.Error(err))
		_ = cmd.Process.Kill()
	}
}

// truncateOutput caps each stream independently, appending a marker
// with the exact number of bytes removed.
func (e *Executor) truncateOutput(stdout, stderr []byte, exitCode int) *Result {
	outStr, outCut := Truncate(string(stdout), e.cfg.StdoutLimit)
	errStr, errCut := Truncate(string(stderr), e.cfg.StderrLimit)
	return &Result{
		Stdout:    outStr,
		Stderr:    errStr,
		ExitCode:  exitCode,
		Truncated: outCut || errCut,
	}
}

// Truncate caps a string at limit bytes, appending a marker with the
// exact number of bytes removed. Shared with the persistent shell so
// both execution paths report truncation identically.
func Truncate(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	return fmt.Sprintf("%s...[truncated %d bytes]", s[:limit], len(s)-limit), true
}
