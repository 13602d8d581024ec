package bridge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/dontnod/pergit/internal/vcs"
)

// Options configures a Synchronizer.
type Options struct {
	// Branch is the synchronized git branch, without "refs/heads/"
	Branch string

	// DepotPath is the synchronized depot directory (//depot/project)
	DepotPath string

	// TagPrefix names checkpoint tags; defaults to DefaultTagPrefix
	TagPrefix string

	// StartChangelist is the changelist a fresh branch starts after
	StartChangelist int

	// StripComments removes "#" lines from messages sent to perforce
	StripComments bool

	// RevertOpened reverts files left opened under DepotPath before a run
	RevertOpened bool

	// CleanWorkspace runs `p4 clean` on DepotPath before a run, after the
	// revert. Untracked files in the mapped directory are deleted unless
	// P4IGNORE lists them, so .git must be ignored when it lives there.
	CleanWorkspace bool

	// Confirm approves each submit; nil submits unconditionally
	Confirm ConfirmFunc

	// Observer receives the stage transitions of applied units
	Observer Observer

	// Logger for progress messages; nil discards them
	Logger *log.Logger
}

// RunOptions alters a single run.
type RunOptions struct {
	// DryRun classifies without changing anything
	DryRun bool

	// Bootstrap accepts a branch that has commits but no checkpoint: its
	// whole first-parent history becomes pending
	Bootstrap bool
}

// Result describes a finished run.
type Result struct {
	Branch string

	// Tip is the branch tip the run started from; empty for a new branch
	Tip string

	// Base is the checkpoint the run started from; zero for a new branch
	Base Checkpoint

	Outcome Outcome

	// Applied lists the checkpoints recorded by this run, in order
	Applied []Checkpoint

	DryRun bool
}

// Latest returns the newest checkpoint after the run.
func (r *Result) Latest() Checkpoint {
	if len(r.Applied) > 0 {
		return r.Applied[len(r.Applied)-1]
	}
	return r.Base
}

// Synchronizer runs one reconciliation between a branch and a depot path.
type Synchronizer struct {
	repo    GitRepo
	p4      Perforce
	store   *CheckpointStore
	enum    *Enumerator
	applier *Applier
	opts    Options
	logger  *log.Logger
}

// New creates a synchronizer.
func New(repo GitRepo, p4 Perforce, opts Options) (*Synchronizer, error) {
	if opts.Branch == "" {
		return nil, configError(nil, "no target branch")
	}
	opts.Branch = strings.TrimPrefix(opts.Branch, "refs/heads/")

	opts.DepotPath = strings.TrimSuffix(strings.TrimSuffix(opts.DepotPath, "/..."), "/")
	if !strings.HasPrefix(opts.DepotPath, "//") {
		return nil, configError(nil, "depot path %q must start with //", opts.DepotPath)
	}
	if opts.StartChangelist < 0 {
		return nil, configError(nil, "negative start changelist %d", opts.StartChangelist)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	store := NewCheckpointStore(repo, opts.TagPrefix)
	return &Synchronizer{
		repo:  repo,
		p4:    p4,
		store: store,
		enum:  NewEnumerator(repo, p4, opts.DepotPath),
		applier: NewApplier(repo, p4, store, ApplierOptions{
			DepotPath:     opts.DepotPath,
			StripComments: opts.StripComments,
			Confirm:       opts.Confirm,
			Observer:      opts.Observer,
			Logger:        logger,
		}),
		opts:   opts,
		logger: logger,
	}, nil
}

// Store returns the checkpoint store of the synchronized branch.
func (s *Synchronizer) Store() *CheckpointStore {
	return s.store
}

// Run reconciles the branch with the depot path.
//
// A conflict returns both the result and a *ConflictError; nothing is
// changed in that case. An apply failure returns the result, listing
// the units applied before it, and an *ApplyError. HEAD is put back on
// the previous branch when the run fails before applying anything.
func (s *Synchronizer) Run(ctx context.Context, opts RunOptions) (res *Result, err error) {
	res = &Result{Branch: s.opts.Branch, DryRun: opts.DryRun}

	restore, err := s.init(ctx, opts)
	if err != nil {
		return nil, err
	}
	applying := false
	defer func() {
		if err != nil && !applying && restore != nil {
			restore()
		}
	}()

	tip, base, after, err := s.load(ctx, opts)
	if err != nil {
		return nil, err
	}
	res.Tip, res.Base = tip, base

	changelists, err := Drain(s.enum.PerforceSince(ctx, after))
	if err != nil {
		return nil, fmt.Errorf("failed to list perforce changes: %w", err)
	}
	commits, err := Drain(s.enum.GitSince(ctx, base.Commit, tip))
	if err != nil {
		if errors.Is(err, ErrDetachedCheckpoint) {
			return nil, configError(err, "checkpoint %s does not lead to %s", base.Tag, s.opts.Branch)
		}
		return nil, fmt.Errorf("failed to list git commits: %w", err)
	}

	res.Outcome = Classify(changelists, commits)
	s.logger.Printf("%s: %s (%d changelist(s), %d commit(s) pending)",
		s.opts.Branch, res.Outcome.Kind, len(changelists), len(commits))

	if opts.DryRun {
		return res, nil
	}

	switch res.Outcome.Kind {
	case Conflict:
		return res, &ConflictError{Changelists: changelists, Commits: commits}
	case PullOnly:
		applying = true
		res.Applied, err = s.applier.Pull(ctx, tip, changelists)
	case PushOnly:
		applying = true
		res.Applied, err = s.applier.Push(ctx, commits)
	}
	return res, err
}

// init checks the git installation, points HEAD at the branch and
// prepares the perforce workspace. The returned function restores the
// previous HEAD and index; it is nil when HEAD did not move.
func (s *Synchronizer) init(ctx context.Context, opts RunOptions) (_ func(), err error) {
	if err := s.repo.CheckVersion(ctx); err != nil {
		return nil, configError(err, "unusable git")
	}
	if err := s.repo.ValidateBranchName(ctx, s.opts.Branch); err != nil {
		return nil, configError(err, "bad branch")
	}
	if opts.DryRun {
		return nil, nil
	}

	// checked against the current HEAD: after a switch the index would
	// still hold the old branch
	staged, err := s.repo.HasStagedChanges(ctx)
	if err != nil {
		return nil, err
	}
	if staged {
		return nil, configError(nil, "the git index has staged changes; commit or reset them first")
	}

	undo, err := s.switchHead(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil && undo != nil {
			undo()
		}
	}()

	if s.opts.RevertOpened {
		opened, err := s.p4.Opened(ctx, s.opts.DepotPath)
		if err != nil {
			return nil, err
		}
		if len(opened) > 0 {
			s.logger.Printf("Reverting %d file(s) left opened under %s", len(opened), s.opts.DepotPath)
			if err := s.p4.Revert(ctx, opened); err != nil {
				return nil, err
			}
		}
	}

	if s.opts.CleanWorkspace {
		s.logger.Printf("Cleaning %s", s.opts.DepotPath)
		if err := s.p4.Clean(ctx, s.opts.DepotPath); err != nil {
			return nil, err
		}
	}

	return undo, nil
}

// switchHead points HEAD at the branch and loads its tip into the index,
// leaving the work tree alone. An unborn branch gets an empty index.
func (s *Synchronizer) switchHead(ctx context.Context) (func(), error) {
	current, err := s.repo.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	if current == s.opts.Branch {
		return nil, nil
	}

	previous, err := s.resolve(ctx, "HEAD")
	if err != nil {
		return nil, err
	}
	tip, err := s.resolve(ctx, "refs/heads/"+s.opts.Branch)
	if err != nil {
		return nil, err
	}

	s.logger.Printf("Switching HEAD from %q to %s", current, s.opts.Branch)
	if err := s.repo.SetHead(ctx, s.opts.Branch); err != nil {
		return nil, configError(err, "cannot use branch %s", s.opts.Branch)
	}

	restore := func() {
		ctx := context.WithoutCancel(ctx)
		var err error
		switch {
		case current != "":
			err = s.repo.SetHead(ctx, current)
		case previous != "":
			err = s.repo.DetachHead(ctx, previous)
		}
		if err == nil {
			err = s.repo.ResetIndex(ctx, previous)
		}
		if err != nil {
			s.logger.Printf("Failed to restore HEAD to %q: %v", cmp.Or(current, previous), err)
			return
		}
		s.logger.Printf("Restored HEAD to %q", cmp.Or(current, previous))
	}

	if err := s.repo.ResetIndex(ctx, tip); err != nil {
		restore()
		return nil, fmt.Errorf("failed to load %s into the index: %w", s.opts.Branch, err)
	}
	return restore, nil
}

// resolve returns the commit ref points at, or "" when it does not exist.
func (s *Synchronizer) resolve(ctx context.Context, ref string) (string, error) {
	hash, err := s.repo.ResolveRef(ctx, ref)
	if errors.Is(err, vcs.ErrRefNotFound) {
		return "", nil
	}
	return hash, err
}

// load resolves the branch tip and the checkpoint to start from. after
// is the changelist number perforce changes are listed after.
func (s *Synchronizer) load(ctx context.Context, opts RunOptions) (tip string, base Checkpoint, after int, err error) {
	tip, err = s.resolve(ctx, "refs/heads/"+s.opts.Branch)
	if err != nil {
		return "", Checkpoint{}, 0, err
	}

	base, err = s.store.Latest(ctx, tip)
	switch {
	case err == nil:
		return tip, base, base.Changelist, nil
	case errors.Is(err, ErrCheckpointNotFound):
		if tip != "" && !opts.Bootstrap {
			return "", Checkpoint{}, 0, configError(err,
				"branch %s has commits but no checkpoint; run with bootstrap to submit its history", s.opts.Branch)
		}
		s.logger.Printf("No checkpoint on %s, starting after changelist %d", s.opts.Branch, s.opts.StartChangelist)
		return tip, Checkpoint{}, s.opts.StartChangelist, nil
	case errors.Is(err, ErrAmbiguousCheckpoint):
		return "", Checkpoint{}, 0, configError(err, "cannot locate the last synchronization of %s", s.opts.Branch)
	default:
		return "", Checkpoint{}, 0, err
	}
}
