package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/executor"
	"github.com/stewardhq/steward/internal/llm"
	"github.com/stewardhq/steward/internal/shell"
	"github.com/stewardhq/steward/internal/workspace"
)

// ShellCommandTool runs commands in a persistent per-conversation shell
// session, so cd and environment changes carry over between calls. The
// same blocklist and approval gates as run_command apply; the session
// itself is sandboxed at spawn.
type ShellCommandTool struct {
	cfg      shell.Config
	approver Approver
	v        *workspace.Validator
	log      *logger.Logger

	mu       sync.Mutex
	sessions map[string]*shell.Session
}

// NewShellCommandTool creates the tool; sessions spawn lazily per
// conversation.
func NewShellCommandTool(cfg shell.Config, approver Approver, v *workspace.Validator, log *logger.Logger) *ShellCommandTool {
	return &ShellCommandTool{
		cfg:      cfg,
		approver: approver,
		v:        v,
		log:      log,
		sessions: make(map[string]*shell.Session),
	}
}

func (t *ShellCommandTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: "shell_command",
		Description: "Run a shell command in a persistent session scoped to this conversation. " +
			"Working directory and environment variables persist between calls. " +
			"Optionally change directory with 'cd' or set environment variables with 'env' " +
			"before the command runs.",
		Schema: objectSchema(map[string]interface{}{
			"command": stringProp("The shell command to execute"),
			"cd":      stringProp("Directory to change into before running, inside the workspace"),
			"env": map[string]interface{}{
				"type":        "object",
				"description": "Environment variables to export before running",
				"additionalProperties": map[string]interface{}{
					"type": "string",
				},
			},
		}, "command"),
	}
}

func (t *ShellCommandTool) Execute(ctx context.Context, call Call) (string, error) {
	var args struct {
		Command string            `json:"command"`
		Cd      string            `json:"cd"`
		Env     map[string]string `json:"env"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}
	if args.Command == "" {
		return "", errors.New("command cannot be empty")
	}
	if pattern := executor.FirstBlockedPattern(args.Command); pattern != "" {
		return "", fmt.Errorf("%w: command contains %q", executor.ErrBlocked, pattern)
	}

	command, err := t.buildCommand(args.Command, args.Cd, args.Env)
	if err != nil {
		return "", err
	}

	approved, err := t.approver.Request(ctx, call.ConversationID, args.Command, true)
	if err != nil {
		return "", fmt.Errorf("approval failed: %w", err)
	}
	if !approved {
		return "", fmt.Errorf("%w by user", executor.ErrDenied)
	}

	result, err := t.session(call.ConversationID).Run(ctx, command)
	if err != nil {
		return "", err
	}
	return jsonResult(result)
}

// buildCommand prefixes the command with validated cd and env
// assignments. The cd path must resolve inside the workspace and env
// names must be legal identifiers; both are quoted before splicing.
func (t *ShellCommandTool) buildCommand(command, cd string, env map[string]string) (string, error) {
	var prefix []string
	if cd != "" {
		canonical, err := t.v.Validate(cd)
		if err != nil {
			return "", err
		}
		prefix = append(prefix, fmt.Sprintf("cd %s", shell.Quote(canonical)))
	}
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !shell.ValidEnvName(name) {
			return "", fmt.Errorf("invalid environment variable name %q", name)
		}
		prefix = append(prefix, fmt.Sprintf("export %s=%s", name, shell.Quote(env[name])))
	}
	if len(prefix) == 0 {
		return command, nil
	}
	return strings.Join(prefix, " && ") + " && " + command, nil
}

func (t *ShellCommandTool) session(conversationID string) *shell.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[conversationID]
	if !ok {
		s = shell.NewSession(t.cfg, t.log)
		t.sessions[conversationID] = s
	}
	return s
}

// Close tears down every session, for daemon shutdown.
func (t *ShellCommandTool) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.sessions {
		s.Close()
		delete(t.sessions, id)
	}
}
