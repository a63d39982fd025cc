package executor

import "strings"

// blockedPatterns are literal substrings rejected before any spawn or
// approval interaction. This is a coarse defense-in-depth filter, not a
// shell parser: it cannot catch obfuscated forms, and real protection
// comes from sandboxing plus approval. It exists so the obviously
// catastrophic cases fail fast with a named rule.
var blockedPatterns = []string{
	"~/.ssh",
	"~/.aws",
	"~/.gnupg",
	"/etc/passwd",
	"/etc/shadow",
	"rm -rf /",
	"rm -rf ~",
}

// FirstBlockedPattern returns the first blocked substring found in the
// command, or "" when the command passes the filter. Exported so the
// persistent shell applies the same filter before its own spawn path.
func FirstBlockedPattern(command string) string {
	for _, pattern := range blockedPatterns {
		if strings.Contains(command, pattern) {
			return pattern
		}
	}
	return ""
}
