// Package vcs holds the types shared by the git and Perforce wrappers.
//
// The two backends live in their own packages:
//
//   - internal/vcs/git: git CLI wrapper (refs, tags, first-parent walks, commits)
//   - internal/vcs/p4: p4 CLI wrapper (changes, describe, open/submit)
//
// Both shell out to the native tools and report failures as *CommandError
// so callers can tell which command failed and what it printed.
package vcs

import (
	"fmt"
	"time"
)

// Type identifies a backing version control system.
type Type string

const (
	// TypeGit is the distributed side of the bridge.
	TypeGit Type = "git"

	// TypePerforce is the centralized side of the bridge.
	TypePerforce Type = "p4"
)

// String returns the string representation of the VCS type
func (t Type) String() string {
	return string(t)
}

// Person identifies the author of a commit or changelist.
type Person struct {
	Name  string
	Email string
}

// String renders the person in the "Name <email>" form git expects.
func (p Person) String() string {
	if p.Email == "" {
		return p.Name
	}
	return fmt.Sprintf("%s <%s>", p.Name, p.Email)
}

// FileAction is the kind of change applied to a single path.
type FileAction string

const (
	ActionAdded    FileAction = "add"
	ActionModified FileAction = "edit"
	ActionDeleted  FileAction = "delete"
)

// FileRevision is one file entry of a submitted changelist.
type FileRevision struct {
	// DepotPath is the depot syntax path (//depot/project/file.txt)
	DepotPath string

	// Action is the raw Perforce action (add, edit, delete, move/add, ...)
	Action string

	// Revision is the file revision created by the changelist
	Revision int
}

// Changelist is a submitted Perforce changelist. Immutable once submitted.
type Changelist struct {
	// Number is the changelist number, monotonically increasing per server
	Number int

	// Time is the submit time
	Time time.Time

	// User is the Perforce user name that submitted the change
	User string

	// Author is the resolved identity of User
	Author Person

	// Description is the changelist description
	Description string

	// Files lists the affected files in depot order
	Files []FileRevision
}

// Commit is a git commit. Immutable once created.
type Commit struct {
	Hash    string
	Parents []string
	Author  Person
	Time    time.Time
	Message string
}

// ShortHash returns the abbreviated commit hash.
func (c Commit) ShortHash() string {
	if len(c.Hash) > 10 {
		return c.Hash[:10]
	}
	return c.Hash
}

// Subject returns the first line of the commit message.
func (c Commit) Subject() string {
	return FirstLine(c.Message)
}

// Tag is a lightweight git tag.
type Tag struct {
	Name   string
	Commit string
}

// FileChange is one entry of the delta between a commit and its first parent.
type FileChange struct {
	// Path is relative to the git repository root, slash separated
	Path string

	// Action is one of ActionAdded, ActionModified, ActionDeleted
	Action FileAction
}

// CommitOptions configures a commit operation
type CommitOptions struct {
	// Message is the commit message (required)
	Message string

	// Author overrides the commit author
	Author Person

	// Date overrides the author date; zero keeps git's default
	Date time.Time

	// NoVerify skips pre-commit hooks
	NoVerify bool

	// AllowEmpty allows creating a commit without content changes
	AllowEmpty bool
}
