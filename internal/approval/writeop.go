package approval

import "fmt"

// previewLimit bounds content previews carried by write approvals. The
// approval UI only needs enough to identify the change, never the full
// payload.
const previewLimit = 200

// WriteOperationKind discriminates filesystem write approvals.
type WriteOperationKind string

const (
	WriteOpWriteFile WriteOperationKind = "write_file"
	WriteOpDelete    WriteOperationKind = "delete_file"
	WriteOpMove      WriteOperationKind = "move_file"
	WriteOpApplyDiff WriteOperationKind = "apply_diff"
)

// WriteOperation is the approval subject for a filesystem mutation. It
// carries bounded previews only; the executing tool holds the real
// payload.
type WriteOperation struct {
	Kind           WriteOperationKind `json:"kind"`
	Path           string             `json:"path"`
	Destination    string             `json:"destination,omitempty"`
	IsOverwrite    bool               `json:"is_overwrite,omitempty"`
	ContentPreview string             `json:"content_preview,omitempty"`
	OldPreview     string             `json:"old_preview,omitempty"`
	NewPreview     string             `json:"new_preview,omitempty"`
}

// WriteFileOp builds the approval subject for writing a file.
func WriteFileOp(path string, isOverwrite bool, content string) WriteOperation {
	return WriteOperation{
		Kind:           WriteOpWriteFile,
		Path:           path,
		IsOverwrite:    isOverwrite,
		ContentPreview: Preview(content),
	}
}

// DeleteFileOp builds the approval subject for deleting a file.
func DeleteFileOp(path string) WriteOperation {
	return WriteOperation{Kind: WriteOpDelete, Path: path}
}

// MoveFileOp builds the approval subject for moving a file.
func MoveFileOp(source, destination string) WriteOperation {
	return WriteOperation{Kind: WriteOpMove, Path: source, Destination: destination}
}

// ApplyDiffOp builds the approval subject for an in-place edit.
func ApplyDiffOp(path, oldContent, newContent string) WriteOperation {
	return WriteOperation{
		Kind:       WriteOpApplyDiff,
		Path:       path,
		OldPreview: Preview(oldContent),
		NewPreview: Preview(newContent),
	}
}

// Description renders the human-facing summary shown in the approval
// prompt.
func (op WriteOperation) Description() string {
	switch op.Kind {
	case WriteOpWriteFile:
		verb := "Create file"
		if op.IsOverwrite {
			verb = "Overwrite file"
		}
		return fmt.Sprintf("%s: %s", verb, op.Path)
	case WriteOpDelete:
		return fmt.Sprintf("Delete file: %s", op.Path)
	case WriteOpMove:
		return fmt.Sprintf("Move file: %s -> %s", op.Path, op.Destination)
	case WriteOpApplyDiff:
		return fmt.Sprintf("Edit file: %s", op.Path)
	default:
		return fmt.Sprintf("Modify: %s", op.Path)
	}
}

// Preview truncates content for an approval subject, appending "..."
// when anything was cut.
func Preview(content string) string {
	if len(content) <= previewLimit {
		return content
	}
	return content[:previewLimit] + "..."
}
