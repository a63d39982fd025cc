package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/shell"
	"github.com/stewardhq/steward/internal/workspace"
)

func newShellTool(t *testing.T, approver Approver) *ShellCommandTool {
	t.Helper()
	v, err := workspace.NewValidator(t.TempDir())
	require.NoError(t, err)
	tool := NewShellCommandTool(shell.Config{WorkspaceDir: v.Root()}, approver, v, logger.NewNop())
	t.Cleanup(tool.Close)
	return tool
}

func TestShellCommandGuards(t *testing.T) {
	t.Run("blocked pattern fails before approval", func(t *testing.T) {
		approver := &stubApprover{approve: true}
		tool := newShellTool(t, approver)

		_, err := tool.Execute(context.Background(), callWith(t, map[string]string{
			"command": "cat ~/.ssh/id_rsa",
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "safety filter")
		assert.Zero(t, approver.calls)
	})

	t.Run("denial stops before the session spawns", func(t *testing.T) {
		approver := &stubApprover{approve: false}
		tool := newShellTool(t, approver)

		_, err := tool.Execute(context.Background(), callWith(t, map[string]string{
			"command": "echo hi",
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "denied")
		assert.Equal(t, 1, approver.calls)
		assert.True(t, approver.lastSandboxed)
		assert.Empty(t, tool.sessions)
	})

	t.Run("empty command rejected", func(t *testing.T) {
		tool := newShellTool(t, &stubApprover{approve: true})
		_, err := tool.Execute(context.Background(), callWith(t, map[string]string{}))
		assert.Error(t, err)
	})
}

func TestShellCommandBuildCommand(t *testing.T) {
	v, err := workspace.NewValidator(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(v.Root(), "sub"), 0o755))
	tool := NewShellCommandTool(shell.Config{}, &stubApprover{approve: true}, v, logger.NewNop())

	t.Run("bare command passes through", func(t *testing.T) {
		cmd, err := tool.buildCommand("make test", "", nil)
		require.NoError(t, err)
		assert.Equal(t, "make test", cmd)
	})

	t.Run("cd is validated and quoted", func(t *testing.T) {
		cmd, err := tool.buildCommand("ls", "sub", nil)
		require.NoError(t, err)
		assert.Equal(t, "cd '"+filepath.Join(v.Root(), "sub")+"' && ls", cmd)
	})

	t.Run("cd outside the workspace is rejected", func(t *testing.T) {
		_, err := tool.buildCommand("ls", "/tmp", nil)
		assert.Error(t, err)
	})

	t.Run("env exports sort by name and quote values", func(t *testing.T) {
		cmd, err := tool.buildCommand("run", "", map[string]string{
			"ZED": "z value", "ALPHA": "it's",
		})
		require.NoError(t, err)
		assert.Equal(t, `export ALPHA='it'\''s' && export ZED='z value' && run`, cmd)
	})

	t.Run("invalid env name is rejected", func(t *testing.T) {
		_, err := tool.buildCommand("run", "", map[string]string{"BAD-NAME": "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "BAD-NAME")
	})
}

func TestShellCommandSessionsArePerConversation(t *testing.T) {
	tool := newShellTool(t, &stubApprover{approve: true})

	s1 := tool.session("conv-a")
	s2 := tool.session("conv-b")
	assert.NotSame(t, s1, s2)
	assert.Same(t, s1, tool.session("conv-a"))
}
