package tools

import (
	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/executor"
	"github.com/stewardhq/steward/internal/gitops"
	"github.com/stewardhq/steward/internal/shell"
	"github.com/stewardhq/steward/internal/workspace"
)

// Provide assembles the full tool registry from the shared services.
// The returned cleanup tears down persistent shell sessions at
// shutdown.
func Provide(
	exec *executor.Executor,
	shellCfg shell.Config,
	fs *workspace.FileSystem,
	git *gitops.Service,
	approver Approver,
	log *logger.Logger,
) (*Registry, func()) {
	v := fs.Validator()
	shellTool := NewShellCommandTool(shellCfg, approver, v, log)

	r := NewRegistry(log)
	r.Add(
		NewRunCommandTool(exec),
		shellTool,
		NewReadFileTool(fs),
		NewListDirectoryTool(fs),
		NewGlobSearchTool(fs),
		NewSearchFilesTool(fs),
		NewWriteFileTool(fs, approver),
		NewCreateDirectoryTool(fs),
		NewDeleteFileTool(fs, approver),
		NewMoveFileTool(fs, approver),
		NewApplyDiffTool(fs, approver),
		NewGitStatusTool(git),
		NewGitDiffTool(git),
		NewGitLogTool(git),
		NewGitAddTool(git, approver),
		NewGitCommitTool(git, approver),
		NewGitBranchTool(git, approver),
		NewFetchURLTool(),
		NewAddAttachmentTool(v),
	)
	return r, shellTool.Close
}
