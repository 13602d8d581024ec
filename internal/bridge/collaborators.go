// Package bridge reconciles one git branch with one Perforce depot path.
//
// A run locates the latest checkpoint tag reachable from the branch tip,
// lists the changelists submitted after it and the first-parent commits
// made after it, then either imports the changelists as commits (pull),
// submits the commits as changelists (push), reports a conflict when both
// sides moved, or does nothing. Every applied unit is tagged
// <prefix>-<changelist> before the next one starts, so an interrupted run
// resumes where it stopped.
package bridge

import (
	"context"

	"github.com/dontnod/pergit/internal/vcs"
	"github.com/dontnod/pergit/internal/vcs/git"
	"github.com/dontnod/pergit/internal/vcs/p4"
)

// GitRepo is the subset of *git.Repo the engine uses.
type GitRepo interface {
	Root() string
	CheckVersion(ctx context.Context) error

	ValidateBranchName(ctx context.Context, name string) error
	ResolveRef(ctx context.Context, ref string) (string, error)
	CurrentBranch(ctx context.Context) (string, error)
	SetHead(ctx context.Context, branch string) error
	DetachHead(ctx context.Context, commit string) error
	HasStagedChanges(ctx context.Context) (bool, error)
	ResetIndex(ctx context.Context, commit string) error

	ListTags(ctx context.Context, f git.TagFilter) ([]vcs.Tag, error)
	CreateTag(ctx context.Context, name, commit string) error
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)

	FirstParentRange(ctx context.Context, base, tip string) ([]string, error)
	CommitInfo(ctx context.Context, hash string) (vcs.Commit, error)
	ChangedFiles(ctx context.Context, commit vcs.Commit) ([]vcs.FileChange, error)

	Add(ctx context.Context, paths []string) error
	Commit(ctx context.Context, opts vcs.CommitOptions) (string, error)
	RestoreFiles(ctx context.Context, commit string, paths []string) error
}

// Perforce is the subset of *p4.Client the engine uses.
type Perforce interface {
	Changes(ctx context.Context, depotPath string, after int) ([]p4.ChangeSummary, error)
	Describe(ctx context.Context, number int, depotPath string) (vcs.Changelist, error)
	User(ctx context.Context, name string) (vcs.Person, error)

	WorkspaceRoot(ctx context.Context, depotPath string) (string, error)
	LocalPaths(ctx context.Context, depotFiles []string) (map[string]string, error)

	Sync(ctx context.Context, depotPath string, number int) error
	Edit(ctx context.Context, paths []string) error
	Add(ctx context.Context, paths []string) error
	Delete(ctx context.Context, paths []string) error
	Revert(ctx context.Context, paths []string) error
	Opened(ctx context.Context, depotPath string) ([]string, error)
	Clean(ctx context.Context, depotPath string) error
	Submit(ctx context.Context, depotPath, description string) (int, error)
}

var (
	_ GitRepo  = (*git.Repo)(nil)
	_ Perforce = (*p4.Client)(nil)
)
