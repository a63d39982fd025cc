// Package terminal runs PTY-backed shell sessions for the human
// supervisor. Output streams onto the event bus as base64 frames the
// websocket gateway forwards; a bounded scrollback ring lets a
// reconnecting client repaint. Sessions idle past the timeout are
// reaped.
package terminal

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/events"
	"github.com/stewardhq/steward/internal/events/bus"
)

const (
	defaultScrollback  = 256 << 10
	defaultIdleTimeout = 30 * time.Minute
	reapInterval       = time.Minute
)

// Config tunes the terminal manager.
type Config struct {
	// Enabled gates session creation; Start fails when false.
	Enabled bool

	// Shell is the program to run; $SHELL then /bin/bash when empty.
	Shell string

	// WorkspaceDir is the starting directory for new sessions.
	WorkspaceDir string

	// ScrollbackSize bounds the replay buffer per session, in bytes.
	ScrollbackSize int

	// IdleTimeout reaps sessions with no input for this long.
	IdleTimeout time.Duration
}

type session struct {
	id         string
	ptmx       *os.File
	cmd        *exec.Cmd
	scrollback *scrollback

	mu         sync.Mutex
	lastActive time.Time
	closed     bool
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// Manager owns every supervisor terminal session.
type Manager struct {
	cfg Config
	bus bus.EventBus
	log *logger.Logger

	mu       sync.Mutex
	sessions map[string]*session

	stopReaper chan struct{}
	reaperOnce sync.Once
}

// NewManager creates the manager and starts its idle reaper.
func NewManager(cfg Config, b bus.EventBus, log *logger.Logger) *Manager {
	if cfg.ScrollbackSize <= 0 {
		cfg.ScrollbackSize = defaultScrollback
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	m := &Manager{
		cfg:        cfg,
		bus:        b,
		log:        log,
		sessions:   make(map[string]*session),
		stopReaper: make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

// Start spawns a new shell in a PTY and returns the session id.
func (m *Manager) Start(cols, rows uint16) (string, error) {
	if !m.cfg.Enabled {
		return "", fmt.Errorf("terminal sessions are disabled; set terminal.enabled in the steward config")
	}
	if cols == 0 || rows == 0 {
		cols, rows = 80, 24
	}

	shell := m.cfg.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/bash"
	}

	cmd := exec.Command(shell)
	if m.cfg.WorkspaceDir != "" {
		cmd.Dir = m.cfg.WorkspaceDir
	}
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return "", fmt.Errorf("failed to start terminal: %w", err)
	}

	s := &session{
		id:         uuid.NewString(),
		ptmx:       ptmx,
		cmd:        cmd,
		scrollback: newScrollback(m.cfg.ScrollbackSize),
		lastActive: time.Now(),
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.log.Info("terminal session started",
		zap.String("session_id", s.id),
		zap.String("shell", shell),
		zap.Int("pid", cmd.Process.Pid))

	go m.pump(s)
	return s.id, nil
}

// pump copies PTY output onto the bus until the shell exits, then
// publishes the exit event and forgets the session.
func (m *Manager) pump(s *session) {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := buf[:n]
			s.scrollback.Write(data)
			m.publish(events.BuildTerminalOutputSubject(s.id), map[string]interface{}{
				"session_id": s.id,
				"data":       base64.StdEncoding.EncodeToString(data),
			})
		}
		if err != nil {
			break
		}
	}

	err := s.cmd.Wait()
	exitCode := 0
	if err != nil {
		exitCode = s.cmd.ProcessState.ExitCode()
	}

	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
	_ = s.ptmx.Close()

	m.log.Info("terminal session exited",
		zap.String("session_id", s.id),
		zap.Int("exit_code", exitCode))
	m.publish(events.BuildTerminalExitSubject(s.id), map[string]interface{}{
		"session_id": s.id,
		"exit_code":  exitCode,
	})
}

// Input writes keystrokes to the session's PTY.
func (m *Manager) Input(id string, data []byte) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.touch()
	if _, err := s.ptmx.Write(data); err != nil {
		return fmt.Errorf("failed to write to terminal '%s': %w", id, err)
	}
	return nil
}

// Resize adjusts the PTY dimensions.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.touch()
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("failed to resize terminal '%s': %w", id, err)
	}
	return nil
}

// Stop terminates a session. The exit event is published by the pump
// when the process reaps.
func (m *Manager) Stop(id string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	m.kill(s)
	return nil
}

// Scrollback returns the buffered output for replay on reconnect.
func (m *Manager) Scrollback(id string) ([]byte, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return s.scrollback.Bytes(), nil
}

// List returns active session ids.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close stops the reaper and every session.
func (m *Manager) Close() {
	m.reaperOnce.Do(func() { close(m.stopReaper) })

	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		m.kill(s)
	}
}

func (m *Manager) get(id string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("terminal session '%s' not found", id)
	}
	return s, nil
}

func (m *Manager) kill(s *session) {
	s.mu.Lock()
	closed := s.closed
	s.closed = true
	s.mu.Unlock()
	if closed {
		return
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

func (m *Manager) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopReaper:
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []*session
	for _, s := range m.sessions {
		s.mu.Lock()
		if s.lastActive.Before(cutoff) {
			idle = append(idle, s)
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.log.Info("reaping idle terminal session", zap.String("session_id", s.id))
		m.kill(s)
	}
}

func (m *Manager) publish(subject string, data map[string]interface{}) {
	if m.bus == nil {
		return
	}
	ev := bus.NewEvent(subject, "terminal-manager", data)
	if err := m.bus.Publish(context.Background(), subject, ev); err != nil {
		m.log.Warn("failed to publish terminal event",
			zap.String("subject", subject), zap.Error(err))
	}
}
