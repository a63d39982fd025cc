package tools

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/stewardhq/steward/internal/llm"
	"github.com/stewardhq/steward/internal/workspace"
)

// AddAttachmentTool stages a workspace file onto the stream's artifact
// queue. Queued paths ride the stream-ended event and persist on the
// turn; nothing is copied or uploaded here.
type AddAttachmentTool struct {
	v *workspace.Validator
}

func NewAddAttachmentTool(v *workspace.Validator) *AddAttachmentTool {
	return &AddAttachmentTool{v: v}
}

func (t *AddAttachmentTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: "add_attachment",
		Description: "Attach a workspace file to this conversation turn so the user receives it " +
			"when the response finishes. Use for generated images, PDFs, and other files worth surfacing.",
		Schema: objectSchema(map[string]interface{}{
			"path": stringProp("Path of the file to attach, relative to the workspace root"),
		}, "path"),
	}
}

func (t *AddAttachmentTool) Execute(_ context.Context, call Call) (string, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}
	if call.Artifacts == nil {
		return "", errors.New("no artifact queue available for this stream")
	}

	canonical, err := t.v.Validate(args.Path)
	if err != nil {
		return "", err
	}
	call.Artifacts.Push(canonical)

	return jsonResult(map[string]interface{}{
		"path":   canonical,
		"kind":   classifyAttachment(canonical),
		"queued": true,
	})
}

// classifyAttachment buckets a file by extension for display purposes.
func classifyAttachment(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".bmp":
		return "image"
	case ".pdf":
		return "pdf"
	default:
		return "file"
	}
}
