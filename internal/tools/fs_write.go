package tools

import (
	"context"
	"fmt"

	"github.com/stewardhq/steward/internal/approval"
	"github.com/stewardhq/steward/internal/llm"
	"github.com/stewardhq/steward/internal/workspace"
)

// The write tools gate every destructive operation through the approval
// gateway with a bounded preview of the change. Denial comes back as a
// descriptive tool error so the model can explain itself instead of
// retrying blindly. create_directory is the exception: it is additive
// and reversible, so it runs unguarded.

// requestWrite asks the gateway for permission to perform op. Writes
// run outside the command sandbox, so sandboxed is always false here.
func requestWrite(ctx context.Context, approver Approver, conversationID string, op approval.WriteOperation) error {
	approved, err := approver.Request(ctx, conversationID, op.Description(), false)
	if err != nil {
		return fmt.Errorf("approval failed: %w", err)
	}
	if !approved {
		return fmt.Errorf("%s denied by user", op.Description())
	}
	return nil
}

// WriteFileTool creates or overwrites a file.
type WriteFileTool struct {
	fs       *workspace.FileSystem
	approver Approver
}

func NewWriteFileTool(fs *workspace.FileSystem, approver Approver) *WriteFileTool {
	return &WriteFileTool{fs: fs, approver: approver}
}

func (t *WriteFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: "write_file",
		Description: "Write content to a workspace file, creating it or replacing its contents. " +
			"The parent directory must already exist. Requires user approval.",
		Schema: objectSchema(map[string]interface{}{
			"path":    stringProp("Path to write, relative to the workspace root"),
			"content": stringProp("The full content of the file"),
		}, "path", "content"),
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, call Call) (string, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}

	overwrite := t.fs.Exists(args.Path)
	op := approval.WriteFileOp(args.Path, overwrite, args.Content)
	if err := requestWrite(ctx, t.approver, call.ConversationID, op); err != nil {
		return "", err
	}

	existed, err := t.fs.WriteFile(args.Path, args.Content)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]interface{}{
		"path":        args.Path,
		"overwritten": existed,
		"bytes":       len(args.Content),
	})
}

// CreateDirectoryTool makes directories; no approval needed.
type CreateDirectoryTool struct {
	fs *workspace.FileSystem
}

func NewCreateDirectoryTool(fs *workspace.FileSystem) *CreateDirectoryTool {
	return &CreateDirectoryTool{fs: fs}
}

func (t *CreateDirectoryTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "create_directory",
		Description: "Create a workspace directory, including missing parents. Creating an existing directory succeeds.",
		Schema: objectSchema(map[string]interface{}{
			"path": stringProp("Directory path to create, relative to the workspace root"),
		}, "path"),
	}
}

func (t *CreateDirectoryTool) Execute(_ context.Context, call Call) (string, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}
	existed, err := t.fs.CreateDirectory(args.Path)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]interface{}{
		"path":    args.Path,
		"existed": existed,
	})
}

// DeleteFileTool removes a single file after approval.
type DeleteFileTool struct {
	fs       *workspace.FileSystem
	approver Approver
}

func NewDeleteFileTool(fs *workspace.FileSystem, approver Approver) *DeleteFileTool {
	return &DeleteFileTool{fs: fs, approver: approver}
}

func (t *DeleteFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "delete_file",
		Description: "Delete a workspace file. Directories are refused. Requires user approval.",
		Schema: objectSchema(map[string]interface{}{
			"path": stringProp("Path of the file to delete"),
		}, "path"),
	}
}

func (t *DeleteFileTool) Execute(ctx context.Context, call Call) (string, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}
	if err := requestWrite(ctx, t.approver, call.ConversationID, approval.DeleteFileOp(args.Path)); err != nil {
		return "", err
	}
	if err := t.fs.DeleteFile(args.Path); err != nil {
		return "", err
	}
	return jsonResult(map[string]interface{}{"path": args.Path, "deleted": true})
}

// MoveFileTool renames a file or directory after approval.
type MoveFileTool struct {
	fs       *workspace.FileSystem
	approver Approver
}

func NewMoveFileTool(fs *workspace.FileSystem, approver Approver) *MoveFileTool {
	return &MoveFileTool{fs: fs, approver: approver}
}

func (t *MoveFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "move_file",
		Description: "Move or rename a workspace file or directory. The destination must not already exist. Requires user approval.",
		Schema: objectSchema(map[string]interface{}{
			"source":      stringProp("Current path"),
			"destination": stringProp("New path; must not exist"),
		}, "source", "destination"),
	}
}

func (t *MoveFileTool) Execute(ctx context.Context, call Call) (string, error) {
	var args struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}
	op := approval.MoveFileOp(args.Source, args.Destination)
	if err := requestWrite(ctx, t.approver, call.ConversationID, op); err != nil {
		return "", err
	}
	if err := t.fs.MoveFile(args.Source, args.Destination); err != nil {
		return "", err
	}
	return jsonResult(map[string]interface{}{
		"source":      args.Source,
		"destination": args.Destination,
	})
}

// ApplyDiffTool replaces one occurrence of text in a file after
// approval with before/after previews.
type ApplyDiffTool struct {
	fs       *workspace.FileSystem
	approver Approver
}

func NewApplyDiffTool(fs *workspace.FileSystem, approver Approver) *ApplyDiffTool {
	return &ApplyDiffTool{fs: fs, approver: approver}
}

func (t *ApplyDiffTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: "apply_diff",
		Description: "Edit a workspace file by replacing the first occurrence of old_content with new_content. " +
			"old_content must match the file exactly. Requires user approval.",
		Schema: objectSchema(map[string]interface{}{
			"path":        stringProp("Path of the file to edit"),
			"old_content": stringProp("Exact text currently in the file"),
			"new_content": stringProp("Replacement text"),
		}, "path", "old_content", "new_content"),
	}
}

func (t *ApplyDiffTool) Execute(ctx context.Context, call Call) (string, error) {
	var args struct {
		Path       string `json:"path"`
		OldContent string `json:"old_content"`
		NewContent string `json:"new_content"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}
	op := approval.ApplyDiffOp(args.Path, args.OldContent, args.NewContent)
	if err := requestWrite(ctx, t.approver, call.ConversationID, op); err != nil {
		return "", err
	}
	result, err := t.fs.ApplyDiff(args.Path, args.OldContent, args.NewContent)
	if err != nil {
		return "", err
	}
	return jsonResult(result)
}
