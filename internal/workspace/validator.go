// Package workspace confines all file, search, and git operations to a
// single root directory. Every path crossing the tool boundary resolves
// through the Validator so symlinks and ".." sequences cannot escape.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxFileSize caps read operations at 10 MB.
const MaxFileSize = 10 * 1024 * 1024

// ErrEmptyPath rejects blank path arguments before any resolution.
var ErrEmptyPath = errors.New("path cannot be empty")

// Validator canonicalizes the workspace root once and checks every
// requested path against it.
type Validator struct {
	root string
}

// NewValidator canonicalizes workspaceRoot; the directory must exist.
func NewValidator(workspaceRoot string) (*Validator, error) {
	abs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root '%s': %w", workspaceRoot, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize workspace root '%s': %w", workspaceRoot, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workspace root '%s': %w", workspaceRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root '%s' is not a directory", workspaceRoot)
	}
	return &Validator{root: canonical}, nil
}

// Root returns the canonical workspace root.
func (v *Validator) Root() string {
	return v.root
}

// resolve anchors a relative path to the root; absolute paths pass
// through for the containment check to judge.
func (v *Validator) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(v.root, path)
}

func (v *Validator) contains(canonical string) bool {
	return canonical == v.root || strings.HasPrefix(canonical, v.root+string(filepath.Separator))
}

func (v *Validator) denied(path string) error {
	return fmt.Errorf("Access denied: path '%s' is outside the workspace root", path)
}

// Validate resolves an existing path and confirms it stays inside the
// workspace. It returns the canonical absolute path.
func (v *Validator) Validate(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	requested := v.resolve(path)

	canonical, err := filepath.EvalSymlinks(requested)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path '%s': %w (the file or directory may not exist)", path, err)
	}
	if !v.contains(canonical) {
		return "", v.denied(path)
	}
	return canonical, nil
}

// ValidateNew resolves a path that may not exist yet, requiring its
// parent directory to exist inside the workspace. Used for file
// creation and move destinations.
func (v *Validator) ValidateNew(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	requested := v.resolve(path)

	parent, err := filepath.EvalSymlinks(filepath.Dir(requested))
	if err != nil {
		return "", fmt.Errorf("parent directory for '%s' does not exist: %w", path, err)
	}
	if !v.contains(parent) {
		return "", v.denied(path)
	}
	return filepath.Join(parent, filepath.Base(requested)), nil
}

// ValidateMkdir resolves a directory path whose ancestors may not exist
// yet. The deepest existing ancestor is canonicalized and containment
// is checked there, so a symlink cannot smuggle the new tree outside.
func (v *Validator) ValidateMkdir(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	requested := v.resolve(path)

	existing := requested
	var missing []string
	for {
		if _, err := os.Stat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", fmt.Errorf("failed to resolve path '%s': no existing ancestor", path)
		}
		missing = append([]string{filepath.Base(existing)}, missing...)
		existing = parent
	}

	canonical, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path '%s': %w", path, err)
	}
	if !v.contains(canonical) {
		return "", v.denied(path)
	}
	return filepath.Join(append([]string{canonical}, missing...)...), nil
}

// ValidateFileSize confirms an already-validated file is within the
// read ceiling and returns its size.
func (v *Validator) ValidateFileSize(canonical string) (int64, error) {
	info, err := os.Stat(canonical)
	if err != nil {
		return 0, fmt.Errorf("failed to read file metadata for '%s': %w", canonical, err)
	}
	if info.Size() > MaxFileSize {
		return 0, fmt.Errorf("file '%s' is too large (%d bytes, max %d bytes)", canonical, info.Size(), MaxFileSize)
	}
	return info.Size(), nil
}

// Rel reports a canonical path relative to the workspace root, for
// user-facing output. Falls back to the input when it cannot.
func (v *Validator) Rel(canonical string) string {
	rel, err := filepath.Rel(v.root, canonical)
	if err != nil {
		return canonical
	}
	return rel
}
