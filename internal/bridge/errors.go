package bridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dontnod/pergit/internal/vcs"
)

// Common errors returned by the engine.
var (
	// ErrConfiguration is the class of setup problems an operator must fix
	// before any run can proceed.
	ErrConfiguration = errors.New("configuration error")

	// ErrCheckpointNotFound is returned when no checkpoint tag is
	// reachable from the branch tip.
	ErrCheckpointNotFound = errors.New("no checkpoint tag found")

	// ErrAmbiguousCheckpoint is returned when the reachable checkpoint tags
	// do not form a single chain.
	ErrAmbiguousCheckpoint = errors.New("ambiguous checkpoint")

	// ErrDetachedCheckpoint is returned when the branch tip no longer
	// descends from its checkpoint.
	ErrDetachedCheckpoint = errors.New("checkpoint not reachable from branch tip")

	// ErrDuplicateCheckpoint is returned when recording would give a
	// changelist or a commit a second checkpoint.
	ErrDuplicateCheckpoint = errors.New("duplicate checkpoint")

	// ErrConflict is returned when both sides have pending changes.
	ErrConflict = errors.New("both git and perforce have pending changes")

	// ErrApply is the class of failures while applying a unit.
	ErrApply = errors.New("apply failed")

	// ErrEmptyCommit is returned for a commit with no delta against its
	// first parent; perforce cannot submit an empty changelist.
	ErrEmptyCommit = errors.New("commit has no changes against its first parent")

	// ErrSubmitDeclined is returned when the confirmation hook refuses a submit.
	ErrSubmitDeclined = errors.New("submit declined")

	// ErrOutsideWorkspace is returned when a commit touches a path outside
	// the directory the depot path maps to.
	ErrOutsideWorkspace = errors.New("path outside perforce workspace")
)

// ConfigError reports a setup problem. It matches ErrConfiguration and
// its cause.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

func configError(err error, format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// ConflictError carries both pending sets of a blocked run. It matches
// ErrConflict.
type ConflictError struct {
	Changelists []vcs.Changelist
	Commits     []vcs.Commit
}

func (e *ConflictError) Error() string {
	cls := make([]string, 0, len(e.Changelists))
	for _, cl := range e.Changelists {
		cls = append(cls, fmt.Sprintf("%d", cl.Number))
	}
	commits := make([]string, 0, len(e.Commits))
	for _, c := range e.Commits {
		commits = append(commits, c.ShortHash())
	}
	return fmt.Sprintf("%v: changelists [%s], commits [%s]",
		ErrConflict, strings.Join(cls, " "), strings.Join(commits, " "))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ApplyError reports the unit and stage at which a run stopped. Units
// applied before it keep their checkpoints. It matches ErrApply and its
// cause.
type ApplyError struct {
	Unit  Unit
	Stage Stage
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("applying %s failed while %s: %v", e.Unit, e.Stage, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

func (e *ApplyError) Is(target error) bool {
	return target == ErrApply
}
