package executor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// CanSandbox reports whether OS-level sandboxing is available: a
// bubblewrap binary on Linux, the built-in sandbox-exec on macOS,
// nothing elsewhere.
func CanSandbox() bool {
	switch runtime.GOOS {
	case "linux":
		cmd := exec.Command("bwrap", "--version")
		cmd.Stdout = nil
		cmd.Stderr = nil
		return cmd.Run() == nil
	case "darwin":
		return true
	default:
		return false
	}
}

// sandboxedCommand builds the platform sandbox invocation for a shell
// command.
func (e *Executor) sandboxedCommand(command string) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "linux":
		args := buildBwrapArgs(command, e.cfg, fileExists("/lib64"))
		return exec.Command("bwrap", args...), nil

	case "darwin":
		profile, err := buildSandboxProfile(e.cfg.WorkspaceDir, e.cfg.NetworkIsolation)
		if err != nil {
			return nil, err
		}
		cmd := exec.Command("sandbox-exec", "-p", profile, "/bin/bash", "-c", command)
		if e.cfg.WorkspaceDir != "" {
			cmd.Dir = e.cfg.WorkspaceDir
		}
		return cmd, nil

	default:
		return nil, fmt.Errorf("sandboxing not supported on %s", runtime.GOOS)
	}
}

// SandboxedShell builds a sandboxed bare /bin/bash reading commands
// from stdin, for callers holding a persistent session. When sandboxing
// is unavailable it falls back to a plain shell rooted at the
// workspace.
func SandboxedShell(cfg Config) *exec.Cmd {
	if CanSandbox() {
		switch runtime.GOOS {
		case "linux":
			args := append(bwrapBaseArgs(cfg, fileExists("/lib64")), "/bin/bash")
			return exec.Command("bwrap", args...)
		case "darwin":
			if profile, err := buildSandboxProfile(cfg.WorkspaceDir, cfg.NetworkIsolation); err == nil {
				cmd := exec.Command("sandbox-exec", "-p", profile, "/bin/bash")
				if cfg.WorkspaceDir != "" {
					cmd.Dir = cfg.WorkspaceDir
				}
				return cmd
			}
		}
	}
	cmd := exec.Command("/bin/bash")
	if cfg.WorkspaceDir != "" {
		cmd.Dir = cfg.WorkspaceDir
	}
	return cmd
}

// buildBwrapArgs assembles the bubblewrap invocation for a one-shot
// shell command.
func buildBwrapArgs(command string, cfg Config, haveLib64 bool) []string {
	return append(bwrapBaseArgs(cfg, haveLib64), "/bin/bash", "-c", command)
}

// bwrapBaseArgs is the shared bubblewrap argument list: system
// directories bound read-only, fresh tmp/proc/dev, every namespace
// unshared with networking shared back unless isolation is requested,
// and the workspace bound read-write as the working directory.
func bwrapBaseArgs(cfg Config, haveLib64 bool) []string {
	args := []string{
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/lib", "/lib",
		"--ro-bind", "/bin", "/bin",
		"--ro-bind", "/sbin", "/sbin",
		"--tmpfs", "/tmp",
		"--proc", "/proc",
		"--dev", "/dev",
		"--unshare-all",
		"--die-with-parent",
	}
	if haveLib64 {
		args = append(args, "--ro-bind", "/lib64", "/lib64")
	}
	if !cfg.NetworkIsolation {
		args = append(args, "--share-net")
	}
	if cfg.WorkspaceDir != "" {
		args = append(args,
			"--bind", cfg.WorkspaceDir, "/workspace",
			"--chdir", "/workspace")
	}
	return args
}

// sandboxProfileBase is the macOS seatbelt profile: permissive by
// default (a deny-default profile blocks fork), with writes to system
// directories and reads of credential material denied.
const sandboxProfileBase = `(version 1)
(allow default)

(deny file-write*
    (subpath "/System")
    (subpath "/Library")
    (subpath "/private/etc")
    (subpath "/private/var")
    (regex #"^/Users/[^/]+/\.ssh")
    (regex #"^/Users/[^/]+/\.aws")
    (regex #"^/Users/[^/]+/\.gnupg")
)

(deny file-read*
    (regex #"^/Users/[^/]+/\.ssh/")
    (regex #"^/Users/[^/]+/\.aws/")
    (regex #"^/Users/[^/]+/\.gnupg/")
    (regex #"^/Users/[^/]+/\.docker/config\.json$")
    (regex #"^/Users/[^/]+/\.kube/config$")
    (regex #"^/Users/[^/]+/\.netrc$")
    (subpath "/private/etc/ssh")
    (literal "/etc/master.passwd")
    (literal "/etc/shadow")
)

(allow file-write* (subpath "/tmp"))
`

// buildSandboxProfile renders the seatbelt profile, adding a write
// allowance for the workspace and a network denial when isolation is
// requested.
func buildSandboxProfile(workspaceDir string, networkIsolation bool) (string, error) {
	var b strings.Builder
	b.WriteString(sandboxProfileBase)

	if networkIsolation {
		b.WriteString("(deny network*)\n")
	}
	if workspaceDir != "" {
		escaped, err := escapeSandboxPath(workspaceDir)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "(allow file-write* (subpath \"%s\"))\n", escaped)
	}
	return b.String(), nil
}

// escapeSandboxPath validates and escapes a workspace path for
// embedding in the seatbelt profile. Paths carrying parentheses are
// rejected outright: they could terminate the string literal and
// inject profile rules.
func escapeSandboxPath(workspace string) (string, error) {
	if !filepath.IsAbs(workspace) {
		return "", fmt.Errorf("workspace path must be absolute, got: %s", workspace)
	}
	if strings.ContainsAny(workspace, "()") {
		return "", fmt.Errorf("workspace path contains invalid characters (parentheses): %s", workspace)
	}

	canonical, err := filepath.EvalSymlinks(workspace)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize workspace path %q: %w", workspace, err)
	}
	if strings.ContainsAny(canonical, "()") {
		return "", fmt.Errorf("canonicalized workspace path contains invalid characters: %s", canonical)
	}

	escaped := strings.ReplaceAll(canonical, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return escaped, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
