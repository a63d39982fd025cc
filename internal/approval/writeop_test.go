package approval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteOperationDescription(t *testing.T) {
	tests := []struct {
		name string
		op   WriteOperation
		want string
	}{
		{"create", WriteFileOp("notes.md", false, "hello"), "Create file: notes.md"},
		{"overwrite", WriteFileOp("notes.md", true, "hello"), "Overwrite file: notes.md"},
		{"delete", DeleteFileOp("old.txt"), "Delete file: old.txt"},
		{"move", MoveFileOp("a.txt", "b.txt"), "Move file: a.txt -> b.txt"},
		{"edit", ApplyDiffOp("main.go", "old", "new"), "Edit file: main.go"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.Description())
		})
	}
}

func TestPreviewTruncation(t *testing.T) {
	short := "small content"
	assert.Equal(t, short, Preview(short))

	long := strings.Repeat("x", previewLimit+50)
	got := Preview(long)
	assert.Len(t, got, previewLimit+3)
	assert.True(t, strings.HasSuffix(got, "..."))

	exact := strings.Repeat("y", previewLimit)
	assert.Equal(t, exact, Preview(exact))
}

func TestWriteOpPreviewsAreBounded(t *testing.T) {
	long := strings.Repeat("z", previewLimit*2)

	op := WriteFileOp("f.txt", false, long)
	assert.Len(t, op.ContentPreview, previewLimit+3)

	diff := ApplyDiffOp("f.txt", long, long)
	assert.Len(t, diff.OldPreview, previewLimit+3)
	assert.Len(t, diff.NewPreview, previewLimit+3)
}
