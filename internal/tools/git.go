package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stewardhq/steward/internal/gitops"
	"github.com/stewardhq/steward/internal/llm"
)

// Git tools wrap the workspace-rooted git service. Read-only queries
// (status, diff, log) run freely; mutating operations (add, commit,
// branch) gate through the approval gateway as command approvals.

// GitStatusTool reports branch and changed paths.
type GitStatusTool struct {
	git *gitops.Service
}

func NewGitStatusTool(git *gitops.Service) *GitStatusTool {
	return &GitStatusTool{git: git}
}

func (t *GitStatusTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "git_status",
		Description: "Show the current git branch and changed files in the workspace repository.",
		Schema:      objectSchema(map[string]interface{}{}),
	}
}

func (t *GitStatusTool) Execute(ctx context.Context, _ Call) (string, error) {
	status, err := t.git.Status(ctx)
	if err != nil {
		return "", err
	}
	return jsonResult(status)
}

// GitDiffTool shows working tree or staged changes.
type GitDiffTool struct {
	git *gitops.Service
}

func NewGitDiffTool(git *gitops.Service) *GitDiffTool {
	return &GitDiffTool{git: git}
}

func (t *GitDiffTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "git_diff",
		Description: "Show uncommitted changes in the workspace repository, optionally staged only or narrowed to one path.",
		Schema: objectSchema(map[string]interface{}{
			"staged": boolProp("Show staged changes instead of the working tree"),
			"path":   stringProp("Restrict the diff to this path"),
		}),
	}
}

func (t *GitDiffTool) Execute(ctx context.Context, call Call) (string, error) {
	var args struct {
		Staged bool   `json:"staged"`
		Path   string `json:"path"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}
	result, err := t.git.Diff(ctx, args.Staged, args.Path)
	if err != nil {
		return "", err
	}
	if result.Diff == "" {
		return "no changes", nil
	}
	return result.Diff, nil
}

// GitLogTool lists recent commits.
type GitLogTool struct {
	git *gitops.Service
}

func NewGitLogTool(git *gitops.Service) *GitLogTool {
	return &GitLogTool{git: git}
}

func (t *GitLogTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "git_log",
		Description: "List recent commits in the workspace repository, newest first.",
		Schema: objectSchema(map[string]interface{}{
			"limit": intProp("How many commits to return (default 20, max 200)"),
		}),
	}
}

func (t *GitLogTool) Execute(ctx context.Context, call Call) (string, error) {
	var args struct {
		Limit int `json:"limit"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}
	commits, err := t.git.Log(ctx, args.Limit)
	if err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return "no commits", nil
	}
	return jsonResult(commits)
}

// GitAddTool stages files after approval.
type GitAddTool struct {
	git      *gitops.Service
	approver Approver
}

func NewGitAddTool(git *gitops.Service, approver Approver) *GitAddTool {
	return &GitAddTool{git: git, approver: approver}
}

func (t *GitAddTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "git_add",
		Description: "Stage workspace files for the next commit. Requires user approval.",
		Schema: objectSchema(map[string]interface{}{
			"paths": map[string]interface{}{
				"type":        "array",
				"description": "Paths to stage, relative to the workspace root",
				"items":       map[string]interface{}{"type": "string"},
			},
		}, "paths"),
	}
}

func (t *GitAddTool) Execute(ctx context.Context, call Call) (string, error) {
	var args struct {
		Paths []string `json:"paths"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}
	if len(args.Paths) == 0 {
		return "", errors.New("no paths to stage")
	}

	description := "git add " + strings.Join(args.Paths, " ")
	if err := requestGitOp(ctx, t.approver, call.ConversationID, description); err != nil {
		return "", err
	}
	if err := t.git.Add(ctx, args.Paths); err != nil {
		return "", err
	}
	return jsonResult(map[string]interface{}{"staged": args.Paths})
}

// GitCommitTool records staged changes after approval.
type GitCommitTool struct {
	git      *gitops.Service
	approver Approver
}

func NewGitCommitTool(git *gitops.Service, approver Approver) *GitCommitTool {
	return &GitCommitTool{git: git, approver: approver}
}

func (t *GitCommitTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "git_commit",
		Description: "Commit staged changes with a message. Requires user approval.",
		Schema: objectSchema(map[string]interface{}{
			"message": stringProp("The commit message"),
		}, "message"),
	}
}

func (t *GitCommitTool) Execute(ctx context.Context, call Call) (string, error) {
	var args struct {
		Message string `json:"message"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Message) == "" {
		return "", errors.New("commit message cannot be empty")
	}

	description := fmt.Sprintf("git commit -m %q", args.Message)
	if err := requestGitOp(ctx, t.approver, call.ConversationID, description); err != nil {
		return "", err
	}
	hash, err := t.git.Commit(ctx, args.Message)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]interface{}{"hash": hash, "message": args.Message})
}

// GitBranchTool lists, creates, or switches branches. Listing needs no
// approval; create and switch do.
type GitBranchTool struct {
	git      *gitops.Service
	approver Approver
}

func NewGitBranchTool(git *gitops.Service, approver Approver) *GitBranchTool {
	return &GitBranchTool{git: git, approver: approver}
}

func (t *GitBranchTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "git_branch",
		Description: "Manage branches: action 'list' shows branches, 'create' makes and switches to a new branch, 'switch' checks out an existing one.",
		Schema: objectSchema(map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "One of list, create, switch",
				"enum":        []string{"list", "create", "switch"},
			},
			"name": stringProp("Branch name, required for create and switch"),
		}, "action"),
	}
}

func (t *GitBranchTool) Execute(ctx context.Context, call Call) (string, error) {
	var args struct {
		Action string `json:"action"`
		Name   string `json:"name"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}

	switch args.Action {
	case "list", "":
		current, branches, err := t.git.Branches(ctx)
		if err != nil {
			return "", err
		}
		return jsonResult(map[string]interface{}{
			"current":  current,
			"branches": branches,
		})

	case "create":
		if err := requestGitOp(ctx, t.approver, call.ConversationID, "git switch -c "+args.Name); err != nil {
			return "", err
		}
		if err := t.git.CreateBranch(ctx, args.Name); err != nil {
			return "", err
		}
		return jsonResult(map[string]interface{}{"created": args.Name})

	case "switch":
		if err := requestGitOp(ctx, t.approver, call.ConversationID, "git switch "+args.Name); err != nil {
			return "", err
		}
		if err := t.git.SwitchBranch(ctx, args.Name); err != nil {
			return "", err
		}
		return jsonResult(map[string]interface{}{"switched": args.Name})

	default:
		return "", fmt.Errorf("unknown git_branch action %q", args.Action)
	}
}

// requestGitOp gates a mutating git operation through approval. Git
// runs outside the command sandbox.
func requestGitOp(ctx context.Context, approver Approver, conversationID, description string) error {
	approved, err := approver.Request(ctx, conversationID, description, false)
	if err != nil {
		return fmt.Errorf("approval failed: %w", err)
	}
	if !approved {
		return fmt.Errorf("%s denied by user", description)
	}
	return nil
}
