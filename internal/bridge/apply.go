package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"github.com/dontnod/pergit/internal/vcs"
)

// Stage is a step of applying one unit.
type Stage int

const (
	Selecting Stage = iota
	Materializing
	Committing
	Submitting
	Checkpointing
	Done
)

func (s Stage) String() string {
	switch s {
	case Selecting:
		return "selecting"
	case Materializing:
		return "materializing"
	case Committing:
		return "committing"
	case Submitting:
		return "submitting"
	case Checkpointing:
		return "checkpointing"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Direction tells which side a unit is copied to.
type Direction int

const (
	// Pull copies a changelist into a git commit.
	Pull Direction = iota

	// Push copies a git commit into a changelist.
	Push
)

func (d Direction) String() string {
	if d == Push {
		return "push"
	}
	return "pull"
}

// Unit identifies the changelist or commit being applied.
type Unit struct {
	Direction  Direction
	Changelist int
	Commit     string
}

func (u Unit) String() string {
	if u.Direction == Push {
		return "commit " + vcs.Commit{Hash: u.Commit}.ShortHash()
	}
	return fmt.Sprintf("changelist %d", u.Changelist)
}

// Observer is notified when a unit enters a stage.
type Observer func(u Unit, s Stage)

// ConfirmFunc approves a push before it is submitted. Returning false
// aborts the run with ErrSubmitDeclined.
type ConfirmFunc func(ctx context.Context, c vcs.Commit, changes []vcs.FileChange, description string) (bool, error)

// ApplierOptions configures an Applier.
type ApplierOptions struct {
	// DepotPath is the synchronized depot directory, without "/..."
	DepotPath string

	// StripComments removes "#" lines from commit messages sent to perforce
	StripComments bool

	// Confirm is asked before every submit; nil submits unconditionally
	Confirm ConfirmFunc

	// Observer receives stage transitions; may be nil
	Observer Observer

	// Logger for progress messages; nil discards them
	Logger *log.Logger
}

// Applier copies units from one side to the other, oldest first and one
// at a time, recording a checkpoint after each.
type Applier struct {
	repo   GitRepo
	p4     Perforce
	store  *CheckpointStore
	opts   ApplierOptions
	logger *log.Logger

	ws *workspace
}

// NewApplier creates an applier.
func NewApplier(repo GitRepo, p4 Perforce, store *CheckpointStore, opts ApplierOptions) *Applier {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Applier{repo: repo, p4: p4, store: store, opts: opts, logger: logger}
}

// workspace is the directory both systems write to. It is resolved once
// and only used by the applier, one unit at a time.
type workspace struct {
	// gitRoot is the work tree of the git repository
	gitRoot string

	// root is where the depot path is mapped in the perforce client
	root string
}

func (a *Applier) workspace(ctx context.Context) (*workspace, error) {
	if a.ws != nil {
		return a.ws, nil
	}

	root, err := a.p4.WorkspaceRoot(ctx, a.opts.DepotPath)
	if err != nil {
		return nil, configError(err, "cannot map %s to a local directory", a.opts.DepotPath)
	}

	gitRoot := filepath.Clean(a.repo.Root())
	if _, ok := vcs.Within(gitRoot, root); !ok {
		return nil, configError(ErrOutsideWorkspace, "%s maps to %s which is outside the git work tree %s",
			a.opts.DepotPath, root, gitRoot)
	}

	a.ws = &workspace{gitRoot: gitRoot, root: filepath.Clean(root)}
	return a.ws, nil
}

// local returns the absolute path of a slash separated git path, failing
// when it falls outside the mapped directory.
func (w *workspace) local(gitPath string) (string, error) {
	abs := filepath.Join(w.gitRoot, filepath.FromSlash(gitPath))
	if _, ok := vcs.Within(w.root, abs); !ok {
		return "", fmt.Errorf("%w: %s is not under %s", ErrOutsideWorkspace, gitPath, w.root)
	}
	return abs, nil
}

// gitPath converts a local path reported by perforce to a git pathspec.
func (w *workspace) gitPath(local string) (string, error) {
	rel, ok := vcs.Within(w.gitRoot, local)
	if !ok {
		return "", fmt.Errorf("%w: %s is not under the git work tree %s", ErrOutsideWorkspace, local, w.gitRoot)
	}
	return filepath.ToSlash(rel), nil
}

func (a *Applier) observe(u Unit, s Stage) {
	if a.opts.Observer != nil {
		a.opts.Observer(u, s)
	}
}

func (a *Applier) fail(u Unit, s Stage, err error) error {
	return &ApplyError{Unit: u, Stage: s, Err: err}
}

// Pull imports changelists as commits on top of tip. tip is empty when
// the branch has no commits yet, in which case the first commit captures
// the whole mapped directory. Checkpoints of the units applied before a
// failure are returned along with the error. Cancellation is honoured
// between units.
func (a *Applier) Pull(ctx context.Context, tip string, changelists []vcs.Changelist) ([]Checkpoint, error) {
	var applied []Checkpoint
	parent := tip
	for _, cl := range changelists {
		if err := ctx.Err(); err != nil {
			return applied, err
		}

		cp, err := a.pull(ctx, cl, parent)
		if err != nil {
			return applied, err
		}
		applied = append(applied, cp)
		parent = cp.Commit
	}
	return applied, nil
}

// pull imports one changelist as a child of parent.
func (a *Applier) pull(ctx context.Context, cl vcs.Changelist, parent string) (Checkpoint, error) {
	u := Unit{Direction: Pull, Changelist: cl.Number}

	a.observe(u, Selecting)
	ws, err := a.workspace(ctx)
	if err != nil {
		return Checkpoint{}, err
	}

	a.observe(u, Materializing)
	if err := a.p4.Sync(ctx, a.opts.DepotPath, cl.Number); err != nil {
		return Checkpoint{}, a.fail(u, Materializing, err)
	}

	var paths []string
	if parent == "" {
		root, err := ws.gitPath(ws.root)
		if err != nil {
			return Checkpoint{}, a.fail(u, Materializing, err)
		}
		paths = []string{root}
	} else {
		paths, err = a.touchedPaths(ctx, ws, cl)
		if err != nil {
			return Checkpoint{}, a.fail(u, Materializing, err)
		}
	}

	if err := a.repo.Add(ctx, paths); err != nil {
		return Checkpoint{}, a.fail(u, Materializing, a.unstage(ctx, parent, err))
	}

	a.observe(u, Committing)
	hash, err := a.repo.Commit(ctx, vcs.CommitOptions{
		Message:    pullMessage(cl),
		Author:     pullAuthor(cl),
		Date:       cl.Time,
		NoVerify:   true,
		AllowEmpty: true,
	})
	if err != nil {
		return Checkpoint{}, a.fail(u, Committing, a.unstage(ctx, parent, err))
	}

	// the commit exists: tag it even if the run was cancelled meanwhile
	a.observe(u, Checkpointing)
	cp, err := a.store.Record(context.WithoutCancel(ctx), cl.Number, hash)
	if err != nil {
		return Checkpoint{}, a.fail(u, Checkpointing, err)
	}

	a.logger.Printf("Imported changelist %d as %s (%s)", cl.Number, vcs.Commit{Hash: hash}.ShortHash(), cp.Tag)
	a.observe(u, Done)
	return cp, nil
}

// unstage resets the index of a failed pull to parent, or empties it on
// an unborn branch, then returns cause. It still runs when ctx was
// cancelled.
func (a *Applier) unstage(ctx context.Context, parent string, cause error) error {
	if err := a.repo.ResetIndex(context.WithoutCancel(ctx), parent); err != nil {
		a.logger.Printf("Failed to reset the git index: %v", err)
		return errors.Join(cause, fmt.Errorf("index reset failed: %w", err))
	}
	return cause
}

// touchedPaths maps the changelist's files to git pathspecs. Files
// outside the client view are skipped.
func (a *Applier) touchedPaths(ctx context.Context, ws *workspace, cl vcs.Changelist) ([]string, error) {
	if len(cl.Files) == 0 {
		return nil, nil
	}

	depotFiles := make([]string, 0, len(cl.Files))
	for _, f := range cl.Files {
		depotFiles = append(depotFiles, f.DepotPath)
	}

	local, err := a.p4.LocalPaths(ctx, depotFiles)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(depotFiles))
	for _, f := range depotFiles {
		l, ok := local[f]
		if !ok {
			a.logger.Printf("Skipping %s: not mapped in the client view", f)
			continue
		}
		p, err := ws.gitPath(l)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func pullMessage(cl vcs.Changelist) string {
	desc := strings.TrimSpace(cl.Description)
	if desc == "" {
		desc = fmt.Sprintf("Perforce changelist %d", cl.Number)
	}
	return fmt.Sprintf("%s\n\n[p4 change %d]\n", desc, cl.Number)
}

func pullAuthor(cl vcs.Changelist) vcs.Person {
	if cl.Author.Name != "" {
		return cl.Author
	}
	return vcs.Person{Name: cl.User}
}

// Push submits commits as changelists, oldest first. Checkpoints of the
// units applied before a failure are returned along with the error.
// Cancellation is honoured between units.
func (a *Applier) Push(ctx context.Context, commits []vcs.Commit) ([]Checkpoint, error) {
	var applied []Checkpoint
	for _, c := range commits {
		if err := ctx.Err(); err != nil {
			return applied, err
		}

		cp, err := a.push(ctx, c)
		if err != nil {
			return applied, err
		}
		applied = append(applied, cp)
	}
	return applied, nil
}

// delta is the perforce side of one commit, split by action.
type delta struct {
	edits, adds, deletes []string

	// restore lists the git paths whose content must be written out
	restore []string
}

func (a *Applier) push(ctx context.Context, c vcs.Commit) (Checkpoint, error) {
	u := Unit{Direction: Push, Commit: c.Hash}

	a.observe(u, Selecting)
	ws, err := a.workspace(ctx)
	if err != nil {
		return Checkpoint{}, err
	}

	changes, err := a.repo.ChangedFiles(ctx, c)
	if err != nil {
		return Checkpoint{}, a.fail(u, Selecting, err)
	}
	if len(changes) == 0 {
		return Checkpoint{}, a.fail(u, Selecting, ErrEmptyCommit)
	}

	var d delta
	for _, ch := range changes {
		local, err := ws.local(ch.Path)
		if err != nil {
			return Checkpoint{}, a.fail(u, Selecting, err)
		}
		switch ch.Action {
		case vcs.ActionModified:
			d.edits = append(d.edits, local)
			d.restore = append(d.restore, ch.Path)
		case vcs.ActionAdded:
			d.adds = append(d.adds, local)
			d.restore = append(d.restore, ch.Path)
		case vcs.ActionDeleted:
			d.deletes = append(d.deletes, local)
		default:
			return Checkpoint{}, a.fail(u, Selecting, fmt.Errorf("unsupported action %q for %s", ch.Action, ch.Path))
		}
	}

	a.observe(u, Materializing)
	var opened []string
	if err := a.materialize(ctx, c, d, &opened); err != nil {
		return Checkpoint{}, a.fail(u, Materializing, a.revert(ctx, opened, err))
	}

	description := pushMessage(c, a.opts.StripComments)
	if a.opts.Confirm != nil {
		ok, err := a.opts.Confirm(ctx, c, changes, description)
		if err == nil && !ok {
			err = ErrSubmitDeclined
		}
		if err != nil {
			return Checkpoint{}, a.fail(u, Submitting, a.revert(ctx, opened, err))
		}
	}

	a.observe(u, Submitting)
	n, err := a.p4.Submit(ctx, a.opts.DepotPath, description)
	if err != nil {
		return Checkpoint{}, a.fail(u, Submitting, a.revert(ctx, opened, err))
	}

	// the changelist exists: tag it even if the run was cancelled meanwhile
	a.observe(u, Checkpointing)
	cp, err := a.store.Record(context.WithoutCancel(ctx), n, c.Hash)
	if err != nil {
		return Checkpoint{}, a.fail(u, Checkpointing, fmt.Errorf("changelist %d was submitted: %w", n, err))
	}

	a.logger.Printf("Submitted %s as changelist %d (%s)", c.ShortHash(), n, cp.Tag)
	a.observe(u, Done)
	return cp, nil
}

// materialize opens the commit's files in perforce and writes their
// content. Files are opened for edit before being overwritten since the
// workspace keeps them read-only.
func (a *Applier) materialize(ctx context.Context, c vcs.Commit, d delta, opened *[]string) error {
	if err := a.p4.Edit(ctx, d.edits); err != nil {
		return err
	}
	*opened = append(*opened, d.edits...)

	if err := a.repo.RestoreFiles(ctx, c.Hash, d.restore); err != nil {
		return err
	}

	if err := a.p4.Add(ctx, d.adds); err != nil {
		return err
	}
	*opened = append(*opened, d.adds...)

	if err := a.p4.Delete(ctx, d.deletes); err != nil {
		return err
	}
	*opened = append(*opened, d.deletes...)

	return nil
}

// revert reverts files opened for a failed unit so nothing stays pending
// in the shared directory, then returns cause. It still runs when ctx
// was cancelled.
func (a *Applier) revert(ctx context.Context, opened []string, cause error) error {
	if len(opened) == 0 {
		return cause
	}

	if err := a.p4.Revert(context.WithoutCancel(ctx), opened); err != nil {
		a.logger.Printf("Failed to revert %d opened file(s): %v", len(opened), err)
		return errors.Join(cause, fmt.Errorf("revert failed: %w", err))
	}
	return cause
}

func pushMessage(c vcs.Commit, stripComments bool) string {
	msg := c.Message
	if stripComments {
		var kept []string
		for _, line := range strings.Split(msg, "\n") {
			if !strings.HasPrefix(line, "#") {
				kept = append(kept, line)
			}
		}
		msg = strings.Join(kept, "\n")
	}

	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = fmt.Sprintf("Git commit %s", c.ShortHash())
	}
	return fmt.Sprintf("%s\n\nGit-Commit: %s\nGit-Author: %s", msg, c.Hash, c.Author)
}
