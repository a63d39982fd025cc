// Package gitops wraps the git binary rooted at the workspace. Every
// path argument passes through the workspace validator and every
// invocation runs with the workspace as its working directory, so tools
// cannot operate on repositories outside the jail.
package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/executor"
	"github.com/stewardhq/steward/internal/workspace"
)

const (
	// MaxDiffBytes caps diff output handed back to the model.
	MaxDiffBytes = 256 << 10

	// DefaultLogLimit applies when a log request names no count.
	DefaultLogLimit = 20
	// MaxLogLimit bounds how far back one log call may reach.
	MaxLogLimit = 200
)

// fieldSep splits log format fields; unit separator never appears in
// commit metadata.
const fieldSep = "\x1f"

var branchNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

// ValidateBranchName rejects names git would refuse or that could be
// mistaken for flags.
func ValidateBranchName(name string) error {
	if name == "" {
		return errors.New("branch name cannot be empty")
	}
	if !branchNameRe.MatchString(name) ||
		strings.Contains(name, "..") ||
		strings.HasSuffix(name, "/") ||
		strings.HasSuffix(name, ".") ||
		strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("invalid branch name %q", name)
	}
	return nil
}

// StatusEntry is one changed path. State is the two-character porcelain
// code, e.g. " M", "A ", "??".
type StatusEntry struct {
	Path  string `json:"path"`
	State string `json:"state"`
}

// Status is a parsed porcelain status.
type Status struct {
	Branch  string        `json:"branch"`
	Clean   bool          `json:"clean"`
	Entries []StatusEntry `json:"entries,omitempty"`
}

// Commit is one log row.
type Commit struct {
	Hash    string `json:"hash"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Subject string `json:"subject"`
}

// DiffResult carries a possibly truncated diff.
type DiffResult struct {
	Diff      string `json:"diff"`
	Truncated bool   `json:"truncated"`
}

// Service runs git subprocesses rooted at the workspace.
type Service struct {
	v   *workspace.Validator
	log *logger.Logger
}

// NewService wraps the workspace validator.
func NewService(v *workspace.Validator, log *logger.Logger) *Service {
	return &Service{v: v, log: log}
}

// Status reports the current branch and changed paths.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	out, err := s.run(ctx, "status", "--porcelain=v1", "--branch")
	if err != nil {
		return nil, err
	}
	return parseStatus(out), nil
}

// Diff returns the working tree diff, or the staged diff, optionally
// narrowed to one path inside the workspace.
func (s *Service) Diff(ctx context.Context, staged bool, path string) (*DiffResult, error) {
	args := []string{"diff"}
	if staged {
		args = append(args, "--staged")
	}
	if path != "" {
		rel, err := s.relPath(path)
		if err != nil {
			return nil, err
		}
		args = append(args, "--", rel)
	}
	out, err := s.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	diff, truncated := executor.Truncate(out, MaxDiffBytes)
	return &DiffResult{Diff: diff, Truncated: truncated}, nil
}

// Log returns the most recent commits, newest first.
func (s *Service) Log(ctx context.Context, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	if limit > MaxLogLimit {
		limit = MaxLogLimit
	}
	out, err := s.run(ctx, "log",
		fmt.Sprintf("--pretty=format:%%H%s%%an%s%%aI%s%%s", fieldSep, fieldSep, fieldSep),
		"-n", fmt.Sprintf("%d", limit))
	if err != nil {
		// An empty repository has no HEAD yet; report no commits.
		if strings.Contains(err.Error(), "does not have any commits") {
			return nil, nil
		}
		return nil, err
	}
	return parseLog(out), nil
}

// Add stages the given workspace paths.
func (s *Service) Add(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return errors.New("no paths to stage")
	}
	args := []string{"add", "--"}
	for _, p := range paths {
		rel, err := s.relPath(p)
		if err != nil {
			return err
		}
		args = append(args, rel)
	}
	_, err := s.run(ctx, args...)
	return err
}

// Commit records staged changes and returns the short hash.
func (s *Service) Commit(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.New("commit message cannot be empty")
	}
	if _, err := s.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	hash, err := s.run(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(hash), nil
}

// Branches lists local branches along with the current one.
func (s *Service) Branches(ctx context.Context) (current string, branches []string, err error) {
	out, err := s.run(ctx, "branch", "--format=%(refname:short)")
	if err != nil {
		return "", nil, err
	}
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			branches = append(branches, line)
		}
	}
	head, err := s.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(head), branches, nil
}

// CreateBranch creates a branch and switches to it.
func (s *Service) CreateBranch(ctx context.Context, name string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	_, err := s.run(ctx, "switch", "-c", name)
	return err
}

// SwitchBranch checks out an existing branch.
func (s *Service) SwitchBranch(ctx context.Context, name string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	_, err := s.run(ctx, "switch", name)
	return err
}

// relPath validates a path into the jail and rewrites it relative to
// the repository root for git's benefit.
func (s *Service) relPath(path string) (string, error) {
	canonical, err := s.v.Validate(path)
	if err != nil {
		return "", err
	}
	return s.v.Rel(canonical), nil
}

func (s *Service) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.v.Root()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		s.log.Debug("git command failed",
			zap.String("subcommand", args[0]),
			zap.String("stderr", msg))
		return "", fmt.Errorf("git %s failed: %s", args[0], msg)
	}
	return stdout.String(), nil
}

func parseStatus(out string) *Status {
	st := &Status{}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if branch, ok := strings.CutPrefix(line, "## "); ok {
			if i := strings.Index(branch, "..."); i >= 0 {
				branch = branch[:i]
			}
			st.Branch = branch
			continue
		}
		if len(line) < 4 {
			continue
		}
		st.Entries = append(st.Entries, StatusEntry{
			State: line[:2],
			Path:  line[3:],
		})
	}
	st.Clean = len(st.Entries) == 0
	return st
}

func parseLog(out string) []Commit {
	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, fieldSep, 4)
		if len(fields) != 4 {
			continue
		}
		commits = append(commits, Commit{
			Hash:    fields[0],
			Author:  fields[1],
			Date:    fields[2],
			Subject: fields[3],
		})
	}
	return commits
}
