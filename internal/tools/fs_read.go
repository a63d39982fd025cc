package tools

import (
	"context"
	"errors"

	"github.com/stewardhq/steward/internal/llm"
	"github.com/stewardhq/steward/internal/workspace"
)

// The read-only filesystem tools need no approval: they cannot leave
// the workspace jail and cannot mutate anything.

// ReadFileTool returns file contents inside the workspace.
type ReadFileTool struct {
	fs *workspace.FileSystem
}

func NewReadFileTool(fs *workspace.FileSystem) *ReadFileTool {
	return &ReadFileTool{fs: fs}
}

func (t *ReadFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "read_file",
		Description: "Read the contents of a file in the workspace. Files over 10 MB are refused.",
		Schema: objectSchema(map[string]interface{}{
			"path": stringProp("Path to the file, relative to the workspace root"),
		}, "path"),
	}
}

func (t *ReadFileTool) Execute(_ context.Context, call Call) (string, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}
	return t.fs.ReadFile(args.Path)
}

// ListDirectoryTool lists a directory, directories first.
type ListDirectoryTool struct {
	fs *workspace.FileSystem
}

func NewListDirectoryTool(fs *workspace.FileSystem) *ListDirectoryTool {
	return &ListDirectoryTool{fs: fs}
}

func (t *ListDirectoryTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "list_directory",
		Description: "List the entries of a workspace directory with their kind and size.",
		Schema: objectSchema(map[string]interface{}{
			"path": stringProp("Directory path, relative to the workspace root; '.' for the root"),
		}, "path"),
	}
}

func (t *ListDirectoryTool) Execute(_ context.Context, call Call) (string, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}
	if args.Path == "" {
		args.Path = "."
	}
	entries, err := t.fs.ListDirectory(args.Path)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]interface{}{
		"path":    args.Path,
		"entries": entries,
	})
}

// GlobSearchTool matches doublestar patterns against the workspace.
type GlobSearchTool struct {
	fs *workspace.FileSystem
}

func NewGlobSearchTool(fs *workspace.FileSystem) *GlobSearchTool {
	return &GlobSearchTool{fs: fs}
}

func (t *GlobSearchTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "glob_search",
		Description: "Find workspace files matching a glob pattern. Supports '**' for recursive matching, e.g. 'src/**/*.go'.",
		Schema: objectSchema(map[string]interface{}{
			"pattern": stringProp("The glob pattern to match against workspace paths"),
		}, "pattern"),
	}
}

func (t *GlobSearchTool) Execute(_ context.Context, call Call) (string, error) {
	var args struct {
		Pattern string `json:"pattern"`
	}
	if err := parseArgs(call.Arguments, &args); err != nil {
		return "", err
	}
	result, err := t.fs.GlobSearch(args.Pattern)
	if err != nil {
		return "", err
	}
	return jsonResult(result)
}

// SearchFilesTool greps workspace file contents.
type SearchFilesTool struct {
	fs *workspace.FileSystem
}

func NewSearchFilesTool(fs *workspace.FileSystem) *SearchFilesTool {
	return &SearchFilesTool{fs: fs}
}

func (t *SearchFilesTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: "search_files",
		Description: "Search workspace file contents for a literal string or regular expression. " +
			"Binary files and hidden entries are skipped; matches are capped per file and in total.",
		Schema: objectSchema(map[string]interface{}{
			"pattern":        stringProp("Text or regular expression to search for"),
			"regex":          boolProp("Treat the pattern as a regular expression"),
			"case_sensitive": boolProp("Match case exactly; defaults to insensitive"),
			"path":           stringProp("Restrict the search to this subdirectory"),
			"max_results":    intProp("Maximum total matches to return"),
		}, "pattern"),
	}
}

func (t *SearchFilesTool) Execute(_ context.Context, call Call) (string, error) {
	var opts workspace.SearchOptions
	if err := parseArgs(call.Arguments, &opts); err != nil {
		return "", err
	}
	if opts.Pattern == "" {
		return "", errors.New("search pattern cannot be empty")
	}
	result, err := t.fs.Search(opts)
	if err != nil {
		return "", err
	}
	return jsonResult(result)
}
