package bridge

import (
	"context"
	"fmt"
	"iter"

	"github.com/dontnod/pergit/internal/vcs"
)

// Enumerator lists the units pending on each side of a checkpoint.
type Enumerator struct {
	repo      GitRepo
	p4        Perforce
	depotPath string
}

// NewEnumerator creates an enumerator for one branch and depot path.
func NewEnumerator(repo GitRepo, p4 Perforce, depotPath string) *Enumerator {
	return &Enumerator{repo: repo, p4: p4, depotPath: depotPath}
}

// PerforceSince yields the changelists submitted under the depot path
// with a number greater than after, ascending. The list is read once;
// each changelist is described and its author resolved as the sequence
// is consumed. The first error ends the sequence.
func (e *Enumerator) PerforceSince(ctx context.Context, after int) iter.Seq2[vcs.Changelist, error] {
	return func(yield func(vcs.Changelist, error) bool) {
		summaries, err := e.p4.Changes(ctx, e.depotPath, after)
		if err != nil {
			yield(vcs.Changelist{}, err)
			return
		}

		for _, s := range summaries {
			cl, err := e.p4.Describe(ctx, s.Number, e.depotPath)
			if err != nil {
				yield(vcs.Changelist{}, err)
				return
			}
			if cl.Time.IsZero() {
				cl.Time = s.Time
			}
			if cl.User == "" {
				cl.User = s.User
			}

			cl.Author, err = e.p4.User(ctx, cl.User)
			if err != nil {
				yield(vcs.Changelist{}, err)
				return
			}

			if !yield(cl, nil) {
				return
			}
		}
	}
}

// GitSince yields the first-parent commits after base up to tip, oldest
// first. An empty base walks from the root commit; an empty tip (unborn
// branch) yields nothing. base must lie on the first-parent chain of tip.
func (e *Enumerator) GitSince(ctx context.Context, base, tip string) iter.Seq2[vcs.Commit, error] {
	return func(yield func(vcs.Commit, error) bool) {
		if tip == "" {
			return
		}

		if base != "" {
			ok, err := e.repo.IsAncestor(ctx, base, tip)
			if err != nil {
				yield(vcs.Commit{}, err)
				return
			}
			if !ok {
				yield(vcs.Commit{}, fmt.Errorf("%w: %s is not an ancestor of %s", ErrDetachedCheckpoint, base, tip))
				return
			}
		}

		hashes, err := e.repo.FirstParentRange(ctx, base, tip)
		if err != nil {
			yield(vcs.Commit{}, err)
			return
		}

		for i, hash := range hashes {
			c, err := e.repo.CommitInfo(ctx, hash)
			if err != nil {
				yield(vcs.Commit{}, err)
				return
			}

			if i == 0 && base != "" && (len(c.Parents) == 0 || c.Parents[0] != base) {
				yield(vcs.Commit{}, fmt.Errorf("%w: %s is not on the first-parent history of %s",
					ErrDetachedCheckpoint, base, tip))
				return
			}

			if !yield(c, nil) {
				return
			}
		}
	}
}

// Pending reports whether seq yields at least one element. It stops
// after the first one.
func Pending[T any](seq iter.Seq2[T, error]) (bool, error) {
	for _, err := range seq {
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Drain collects every element of seq.
func Drain[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
