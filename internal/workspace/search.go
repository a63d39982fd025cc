package workspace

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// DefaultMaxResults caps the total matches a search returns.
	DefaultMaxResults = 100
	// MaxMatchesPerFile stops one noisy file from crowding out the rest.
	MaxMatchesPerFile = 20
)

// SearchOptions shape a content search over the workspace tree.
type SearchOptions struct {
	Pattern       string `json:"pattern"`
	Regex         bool   `json:"regex,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
	Path          string `json:"path,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
}

// SearchMatch is one matching line.
type SearchMatch struct {
	Path       string `json:"path"`
	LineNumber int    `json:"line_number"`
	Line       string `json:"line"`
}

// SearchResult carries matches in walk order.
type SearchResult struct {
	Matches   []SearchMatch `json:"matches"`
	Count     int           `json:"count"`
	Truncated bool          `json:"truncated"`
}

// Search scans text files under the workspace (or a subdirectory) for
// a literal or regular-expression pattern. Hidden entries, binary
// files, and files over the read ceiling are skipped. Matches stop at
// MaxResults overall and MaxMatchesPerFile within one file.
func (f *FileSystem) Search(opts SearchOptions) (*SearchResult, error) {
	if opts.Pattern == "" {
		return nil, fmt.Errorf("search pattern cannot be empty")
	}
	match, err := compileMatcher(opts)
	if err != nil {
		return nil, err
	}

	root := f.v.Root()
	if opts.Path != "" {
		root, err = f.v.Validate(opts.Path)
		if err != nil {
			return nil, err
		}
	}
	limit := opts.MaxResults
	if limit <= 0 {
		limit = DefaultMaxResults
	}

	result := &SearchResult{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > MaxFileSize {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || looksBinary(data) {
			return nil
		}

		rel := f.v.Rel(path)
		perFile := 0
		for i, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSuffix(line, "\r")
			if !match(line) {
				continue
			}
			result.Matches = append(result.Matches, SearchMatch{
				Path:       rel,
				LineNumber: i + 1,
				Line:       line,
			})
			perFile++
			if len(result.Matches) >= limit {
				result.Truncated = true
				return filepath.SkipAll
			}
			if perFile >= MaxMatchesPerFile {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	result.Count = len(result.Matches)
	return result, nil
}

func compileMatcher(opts SearchOptions) (func(string) bool, error) {
	if opts.Regex {
		expr := opts.Pattern
		if !opts.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid search pattern '%s': %w", opts.Pattern, err)
		}
		return re.MatchString, nil
	}
	if opts.CaseSensitive {
		needle := opts.Pattern
		return func(line string) bool { return strings.Contains(line, needle) }, nil
	}
	needle := strings.ToLower(opts.Pattern)
	return func(line string) bool {
		return strings.Contains(strings.ToLower(line), needle)
	}, nil
}

// looksBinary sniffs for a NUL byte in the leading window, the same
// heuristic git uses to classify files.
func looksBinary(data []byte) bool {
	window := data
	if len(window) > 8000 {
		window = window[:8000]
	}
	return bytes.IndexByte(window, 0) >= 0
}
