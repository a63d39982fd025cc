package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pmezard/go-difflib/difflib"
)

// MaxGlobResults caps glob matches before the truncation flag trips.
const MaxGlobResults = 1000

// DirectoryEntry is one row of a directory listing.
type DirectoryEntry struct {
	Name string `json:"name"`
	Type string `json:"entry_type"`
	Size int64  `json:"size,omitempty"`
}

// GlobResult carries glob matches relative to the workspace root.
type GlobResult struct {
	Matches   []string `json:"matches"`
	Count     int      `json:"count"`
	Truncated bool     `json:"truncated"`
}

// DiffResult reports what an apply-diff edit changed.
type DiffResult struct {
	Path       string `json:"path"`
	Insertions int    `json:"insertions"`
	Deletions  int    `json:"deletions"`
}

// FileSystem performs workspace-confined file operations. Every path
// argument runs through the Validator before touching the disk.
type FileSystem struct {
	v *Validator
}

// NewFileSystem wraps a Validator.
func NewFileSystem(v *Validator) *FileSystem {
	return &FileSystem{v: v}
}

// Validator exposes the underlying jail for callers that need raw
// path checks, such as the git service and attachment staging.
func (fs *FileSystem) Validator() *Validator {
	return fs.v
}

// Exists reports whether a workspace path resolves to an existing
// entry. Paths outside the jail report false.
func (fs *FileSystem) Exists(path string) bool {
	_, err := fs.v.Validate(path)
	return err == nil
}

// ReadFile returns the contents of a file inside the workspace,
// subject to the size ceiling.
func (fs *FileSystem) ReadFile(path string) (string, error) {
	canonical, err := fs.v.Validate(path)
	if err != nil {
		return "", err
	}
	if _, err := fs.v.ValidateFileSize(canonical); err != nil {
		return "", err
	}
	data, err := os.ReadFile(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to read file '%s': %w", path, err)
	}
	return string(data), nil
}

// ListDirectory lists a directory with directories first, then files,
// each group ordered case-insensitively by name.
func (fs *FileSystem) ListDirectory(path string) ([]DirectoryEntry, error) {
	canonical, err := fs.v.Validate(path)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory '%s': %w", path, err)
	}

	entries := make([]DirectoryEntry, 0, len(dirents))
	for _, d := range dirents {
		entry := DirectoryEntry{Name: d.Name(), Type: "file"}
		if d.IsDir() {
			entry.Type = "directory"
		} else if info, err := d.Info(); err == nil {
			entry.Size = info.Size()
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == "directory"
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	return entries, nil
}

// GlobSearch matches a doublestar pattern against the workspace tree.
// Matches come back relative to the root, sorted, capped at
// MaxGlobResults with the Truncated flag set when the cap bites.
func (fs *FileSystem) GlobSearch(pattern string) (*GlobResult, error) {
	if pattern == "" {
		return nil, fmt.Errorf("glob pattern cannot be empty")
	}
	if filepath.IsAbs(pattern) {
		prefix := fs.v.Root() + string(filepath.Separator)
		if !strings.HasPrefix(pattern, prefix) {
			return nil, fs.v.denied(pattern)
		}
		pattern = strings.TrimPrefix(pattern, prefix)
	}

	matches, err := doublestar.Glob(os.DirFS(fs.v.Root()), filepath.ToSlash(pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
	}
	sort.Strings(matches)

	result := &GlobResult{Matches: matches}
	if len(matches) > MaxGlobResults {
		result.Matches = matches[:MaxGlobResults]
		result.Truncated = true
	}
	result.Count = len(result.Matches)
	return result, nil
}

// WriteFile writes content to a path whose parent must already exist.
// It reports whether the file existed beforehand so callers can frame
// the operation as a create or an overwrite.
func (fs *FileSystem) WriteFile(path, content string) (bool, error) {
	canonical, err := fs.v.ValidateNew(path)
	if err != nil {
		return false, err
	}

	existed := false
	if info, err := os.Stat(canonical); err == nil {
		if info.IsDir() {
			return false, fmt.Errorf("cannot write file: '%s' is a directory", path)
		}
		existed = true
	}
	if err := os.WriteFile(canonical, []byte(content), 0o644); err != nil {
		return existed, fmt.Errorf("failed to write file '%s': %w", path, err)
	}
	return existed, nil
}

// CreateDirectory makes a directory and any missing parents. Creating
// a directory that already exists succeeds and reports existed=true.
func (fs *FileSystem) CreateDirectory(path string) (bool, error) {
	canonical, err := fs.v.ValidateMkdir(path)
	if err != nil {
		return false, err
	}
	if info, err := os.Stat(canonical); err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("path '%s' already exists and is not a directory", path)
		}
		return true, nil
	}
	if err := os.MkdirAll(canonical, 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory '%s': %w", path, err)
	}
	return false, nil
}

// DeleteFile removes a single file. Directories are refused.
func (fs *FileSystem) DeleteFile(path string) error {
	canonical, err := fs.v.Validate(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return fmt.Errorf("failed to stat '%s': %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("path '%s' is a directory, not a file", path)
	}
	if err := os.Remove(canonical); err != nil {
		return fmt.Errorf("failed to delete file '%s': %w", path, err)
	}
	return nil
}

// MoveFile renames a file or directory. The destination must not
// already exist; moves never clobber.
func (fs *FileSystem) MoveFile(source, destination string) error {
	src, err := fs.v.Validate(source)
	if err != nil {
		return err
	}
	dst, err := fs.v.ValidateNew(destination)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("Destination '%s' already exists. Delete it first or choose a different name.", destination)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move '%s' to '%s': %w", source, destination, err)
	}
	return nil
}

// ApplyDiff replaces the first occurrence of oldContent in a file with
// newContent and reports line-level insertion and deletion counts for
// the replaced region.
func (fs *FileSystem) ApplyDiff(path, oldContent, newContent string) (*DiffResult, error) {
	canonical, err := fs.v.Validate(path)
	if err != nil {
		return nil, err
	}
	if _, err := fs.v.ValidateFileSize(canonical); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to read file '%s': %w", path, err)
	}
	content := string(data)

	if !strings.Contains(content, oldContent) {
		return nil, fmt.Errorf("Could not find the text to replace in '%s'. Read the file first to get current content.", path)
	}
	updated := strings.Replace(content, oldContent, newContent, 1)
	if err := os.WriteFile(canonical, []byte(updated), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file '%s': %w", path, err)
	}

	insertions, deletions := countLineChanges(oldContent, newContent)
	return &DiffResult{Path: path, Insertions: insertions, Deletions: deletions}, nil
}

// countLineChanges diffs the replaced snippets line by line.
func countLineChanges(oldContent, newContent string) (insertions, deletions int) {
	matcher := difflib.NewMatcher(difflib.SplitLines(oldContent), difflib.SplitLines(newContent))
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'r':
			deletions += op.I2 - op.I1
			insertions += op.J2 - op.J1
		case 'd':
			deletions += op.I2 - op.I1
		case 'i':
			insertions += op.J2 - op.J1
		}
	}
	return insertions, deletions
}
