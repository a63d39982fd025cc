package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/gitops"
	"github.com/stewardhq/steward/internal/workspace"
)

func newGitService(t *testing.T) *gitops.Service {
	t.Helper()
	v, err := workspace.NewValidator(t.TempDir())
	require.NoError(t, err)
	return gitops.NewService(v, logger.NewNop())
}

func TestGitBranchToolUnknownAction(t *testing.T) {
	tool := NewGitBranchTool(newGitService(t), &stubApprover{approve: true})

	_, err := tool.Execute(context.Background(), callWith(t, map[string]string{"action": "merge"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown git_branch action")
}

func TestGitMutationsStopOnDenial(t *testing.T) {
	git := newGitService(t)

	t.Run("commit", func(t *testing.T) {
		approver := &stubApprover{approve: false}
		tool := NewGitCommitTool(git, approver)
		_, err := tool.Execute(context.Background(), callWith(t, map[string]string{"message": "change"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "denied by user")
		assert.Equal(t, `git commit -m "change"`, approver.lastDescription)
	})

	t.Run("branch create", func(t *testing.T) {
		approver := &stubApprover{approve: false}
		tool := NewGitBranchTool(git, approver)
		_, err := tool.Execute(context.Background(), callWith(t, map[string]string{
			"action": "create", "name": "feature/x",
		}))
		require.Error(t, err)
		assert.Equal(t, "git switch -c feature/x", approver.lastDescription)
	})
}

func TestGitAddToolRequiresPaths(t *testing.T) {
	tool := NewGitAddTool(newGitService(t), &stubApprover{approve: true})
	_, err := tool.Execute(context.Background(), callWith(t, map[string][]string{"paths": {}}))
	assert.Error(t, err)
}

func TestGitCommitToolRequiresMessage(t *testing.T) {
	approver := &stubApprover{approve: true}
	tool := NewGitCommitTool(newGitService(t), approver)
	_, err := tool.Execute(context.Background(), callWith(t, map[string]string{"message": "  "}))
	require.Error(t, err)
	assert.Zero(t, approver.calls, "validation precedes approval")
}
