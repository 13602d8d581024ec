package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dontnod/pergit/internal/vcs"
	"github.com/dontnod/pergit/internal/vcs/git"
)

// DefaultTagPrefix names checkpoint tags p4-<changelist>.
const DefaultTagPrefix = "p4"

// Checkpoint pairs a changelist with the commit holding the same content.
type Checkpoint struct {
	Changelist int
	Commit     string
	Tag        string
}

// IsZero reports whether c is the absent checkpoint of a fresh branch.
func (c Checkpoint) IsZero() bool {
	return c.Changelist == 0 && c.Commit == ""
}

// CheckpointStore reads and writes checkpoint tags.
type CheckpointStore struct {
	repo   GitRepo
	prefix string
}

// NewCheckpointStore creates a store for tags named <prefix>-<n>.
func NewCheckpointStore(repo GitRepo, prefix string) *CheckpointStore {
	if prefix == "" {
		prefix = DefaultTagPrefix
	}
	return &CheckpointStore{repo: repo, prefix: prefix}
}

// Prefix returns the tag prefix.
func (s *CheckpointStore) Prefix() string {
	return s.prefix
}

// TagName returns the checkpoint tag name for changelist n.
func (s *CheckpointStore) TagName(n int) string {
	return fmt.Sprintf("%s-%d", s.prefix, n)
}

// ParseTag returns the changelist number encoded in a tag name. Tags that
// carry the prefix but no canonical positive number are not checkpoints.
func (s *CheckpointStore) ParseTag(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, s.prefix+"-")
	if !ok || rest == "" || rest[0] == '0' {
		return 0, false
	}
	for _, c := range rest {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *CheckpointStore) list(ctx context.Context, f git.TagFilter) ([]Checkpoint, error) {
	f.Prefix = s.prefix
	tags, err := s.repo.ListTags(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.checkpoints(tags), nil
}

func (s *CheckpointStore) checkpoints(tags []vcs.Tag) []Checkpoint {
	var cps []Checkpoint
	for _, t := range tags {
		if n, ok := s.ParseTag(t.Name); ok {
			cps = append(cps, Checkpoint{Changelist: n, Commit: t.Commit, Tag: t.Name})
		}
	}
	return cps
}

// Latest returns the checkpoint with the highest changelist number among
// those reachable from tip. Tags on other histories, such as those of
// other branches sharing the prefix, are ignored: when none is reachable,
// or tip is empty, ErrCheckpointNotFound is returned.
//
// Every other reachable checkpoint must be an ancestor of the selected
// one and no commit may carry two checkpoints; otherwise the history is
// ambiguous and ErrAmbiguousCheckpoint is returned.
func (s *CheckpointStore) Latest(ctx context.Context, tip string) (Checkpoint, error) {
	if tip == "" {
		return Checkpoint{}, fmt.Errorf("%w: branch has no commits", ErrCheckpointNotFound)
	}

	reachable, err := s.list(ctx, git.TagFilter{MergedInto: tip})
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(reachable) == 0 {
		others, err := s.list(ctx, git.TagFilter{})
		if err != nil {
			return Checkpoint{}, fmt.Errorf("failed to list checkpoints: %w", err)
		}
		if len(others) > 0 {
			return Checkpoint{}, fmt.Errorf("%w: none of %d %s-<changelist> tag(s) is reachable from %s",
				ErrCheckpointNotFound, len(others), s.prefix, tip)
		}
		return Checkpoint{}, fmt.Errorf("%w: no %s-<changelist> tag", ErrCheckpointNotFound, s.prefix)
	}

	byCommit := make(map[string]Checkpoint, len(reachable))
	best := reachable[0]
	for _, cp := range reachable {
		if other, ok := byCommit[cp.Commit]; ok && other.Changelist != cp.Changelist {
			return Checkpoint{}, fmt.Errorf("%w: %s and %s tag the same commit %s",
				ErrAmbiguousCheckpoint, other.Tag, cp.Tag, cp.Commit)
		}
		byCommit[cp.Commit] = cp
		if cp.Changelist > best.Changelist {
			best = cp
		}
	}

	// reachable from tip but not from best: parallel lines of checkpoints
	stray, err := s.list(ctx, git.TagFilter{MergedInto: tip, NotMergedInto: best.Commit})
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(stray) > 0 {
		return Checkpoint{}, fmt.Errorf("%w: %s is not an ancestor of %s",
			ErrAmbiguousCheckpoint, stray[0].Tag, best.Tag)
	}

	return best, nil
}

// Record tags commit as the checkpoint of changelist n. Recording the
// same pair twice returns the existing checkpoint.
func (s *CheckpointStore) Record(ctx context.Context, n int, commit string) (Checkpoint, error) {
	if n <= 0 {
		return Checkpoint{}, fmt.Errorf("invalid changelist number %d", n)
	}
	if commit == "" {
		return Checkpoint{}, fmt.Errorf("cannot record changelist %d: empty commit", n)
	}

	cp := Checkpoint{Changelist: n, Commit: commit, Tag: s.TagName(n)}

	existing, err := s.list(ctx, git.TagFilter{PointsAt: commit})
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to list checkpoints at %s: %w", commit, err)
	}
	for _, e := range existing {
		if e.Changelist == n {
			return e, nil
		}
	}
	if len(existing) > 0 {
		return Checkpoint{}, fmt.Errorf("%w: commit %s already tagged %s", ErrDuplicateCheckpoint, commit, existing[0].Tag)
	}

	if err := s.repo.CreateTag(ctx, cp.Tag, commit); err != nil {
		if errors.Is(err, vcs.ErrRefExists) {
			return Checkpoint{}, fmt.Errorf("%w: %s already tags another commit", ErrDuplicateCheckpoint, cp.Tag)
		}
		return Checkpoint{}, err
	}

	return cp, nil
}
