package tools

import (
	"context"
	"errors"

	"github.com/stewardhq/steward/internal/executor"
	"github.com/stewardhq/steward/internal/llm"
)

// RunCommandTool executes one-shot shell commands through the guarded
// executor: blocklist, approval, sandbox, timeout, and output caps all
// apply there.
type RunCommandTool struct {
	exec *executor.Executor
}

// NewRunCommandTool wraps the shared executor.
func NewRunCommandTool(exec *executor.Executor) *RunCommandTool {
	return &RunCommandTool{exec: exec}
}

func (t *RunCommandTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: "run_command",
		Description: "Run a shell command in the workspace. Each call starts a fresh shell; " +
			"working directory and environment changes do not persist. " +
			"Use shell_command when state must carry over.",
		Schema: objectSchema(map[string]interface{}{
			"command": stringProp("The shell command to execute"),
		}, "command"),
	}
}

func (t *RunCommandTool) Execute(ctx context.Context, call Call) (string, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}
	if args.Command == "" {
		return "", errors.New("command cannot be empty")
	}

	result, err := t.exec.Execute(ctx, call.ConversationID, args.Command)
	if err != nil {
		return "", err
	}
	return jsonResult(result)
}
