package vcs

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by VCS operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, vcs.ErrRefNotFound) {
//	    // unborn branch
//	}
var (
	// ErrNotInVCS is returned when the operation requires being inside
	// a git repository but none was found.
	ErrNotInVCS = errors.New("not in a VCS repository")

	// ErrVCSNotAvailable is returned when the required binary
	// (git or p4) is not installed or not in PATH.
	ErrVCSNotAvailable = errors.New("VCS binary not available")

	// ErrRefNotFound is returned when a ref or tag does not resolve to a commit.
	ErrRefNotFound = errors.New("reference not found")

	// ErrRefExists is returned when attempting to create a tag
	// that already exists.
	ErrRefExists = errors.New("reference already exists")

	// ErrCommandFailed matches every *CommandError.
	ErrCommandFailed = errors.New("external command failed")

	// ErrUnsupportedVersion is returned when the installed binary is
	// older than the minimum version required.
	ErrUnsupportedVersion = errors.New("unsupported VCS version")
)

// CommandError describes a failed git or p4 invocation.
type CommandError struct {
	// Tool is the binary that was run (git or p4)
	Tool Type

	// Args are the command arguments, secrets already masked
	Args []string

	// Output is what the command printed on stderr (or combined output)
	Output string

	// Err is the underlying exec error or a classified sentinel
	Err error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s failed: %v", e.Tool, strings.Join(e.Args, " "), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is reports ErrCommandFailed for every command error.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}

// IsFatal returns true if the error indicates the tooling itself is
// unusable (binary missing, not a repository, version too old).
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrNotInVCS) ||
		errors.Is(err, ErrVCSNotAvailable) ||
		errors.Is(err, ErrUnsupportedVersion)
}
