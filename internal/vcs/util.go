package vcs

import (
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
)

// ParseLines splits command output into trimmed, non-empty lines.
func ParseLines(output []byte) []string {
	var lines []string
	for line := range strings.SplitSeq(string(output), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// FirstLine returns the first non-blank line of text, trimmed. Commit
// subjects and changelist summaries are taken this way.
func FirstLine(text string) string {
	for line := range strings.SplitSeq(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// TrimOutput trims surrounding whitespace from command output.
func TrimOutput(output []byte) string {
	return strings.TrimSpace(string(output))
}

// Within reports whether target is base or lies below it, and returns
// target relative to base when it does.
func Within(base, target string) (string, bool) {
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(target))
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// ExitCode returns the exit status carried by err: 0 for nil, -1 when the
// process did not exit normally or never ran.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1
	}
	return exitErr.ExitCode()
}
