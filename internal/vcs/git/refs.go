package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dontnod/pergit/internal/vcs"
)

// ResolveRef returns the commit hash the given ref points at.
// Returns vcs.ErrRefNotFound when the ref does not exist, which is also
// the case for an unborn branch.
func (r *Repo) ResolveRef(ctx context.Context, ref string) (string, error) {
	output, err := r.run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		if vcs.ExitCode(err) == 1 {
			return "", fmt.Errorf("%w: %s", vcs.ErrRefNotFound, ref)
		}
		return "", fmt.Errorf("failed to resolve ref %s: %w", ref, err)
	}

	return vcs.TrimOutput(output), nil
}

// CurrentBranch returns the branch HEAD points at, unborn or not.
// Returns empty string if in detached HEAD state
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	output, err := r.run(ctx, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		if vcs.ExitCode(err) == 1 {
			return "", nil // Detached HEAD
		}
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}

	return vcs.TrimOutput(output), nil
}

// ValidateBranchName checks that name is a valid branch name.
func (r *Repo) ValidateBranchName(ctx context.Context, name string) error {
	if _, err := r.run(ctx, "check-ref-format", "--branch", name); err != nil {
		return fmt.Errorf("invalid branch name %q: %w", name, err)
	}
	return nil
}

// SetHead points HEAD at refs/heads/<branch> without touching the work
// tree or the index. The branch may not exist yet, in which case the next
// commit creates it.
func (r *Repo) SetHead(ctx context.Context, branch string) error {
	if _, err := r.run(ctx, "symbolic-ref", "HEAD", "refs/heads/"+branch); err != nil {
		return fmt.Errorf("failed to switch HEAD to %s: %w", branch, err)
	}
	return nil
}

// DetachHead points HEAD directly at commit, leaving the index and the
// work tree alone.
func (r *Repo) DetachHead(ctx context.Context, commit string) error {
	if _, err := r.run(ctx, "update-ref", "--no-deref", "HEAD", commit); err != nil {
		return fmt.Errorf("failed to detach HEAD at %s: %w", commit, err)
	}
	return nil
}

// TagFilter selects tags for ListTags. Empty fields do not filter.
type TagFilter struct {
	// Prefix keeps tags named <Prefix>-*
	Prefix string

	// MergedInto keeps tags whose commit is reachable from this commit
	MergedInto string

	// NotMergedInto keeps tags whose commit is not reachable from this commit
	NotMergedInto string

	// PointsAt keeps tags pointing exactly at this commit
	PointsAt string
}

// ListTags returns tags matching the filter. Annotated tags report the
// commit they peel to.
func (r *Repo) ListTags(ctx context.Context, f TagFilter) ([]vcs.Tag, error) {
	args := []string{"for-each-ref", "--format=%(refname:strip=2)%00%(objectname)%00%(*objectname)"}
	if f.MergedInto != "" {
		args = append(args, "--merged="+f.MergedInto)
	}
	if f.NotMergedInto != "" {
		args = append(args, "--no-merged="+f.NotMergedInto)
	}
	if f.PointsAt != "" {
		args = append(args, "--points-at="+f.PointsAt)
	}

	pattern := "refs/tags/"
	if f.Prefix != "" {
		pattern += f.Prefix + "-*"
	}
	args = append(args, pattern)

	output, err := r.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("git for-each-ref failed: %w", err)
	}

	return parseTags(output), nil
}

func parseTags(output []byte) []vcs.Tag {
	var tags []vcs.Tag
	for _, line := range vcs.ParseLines(output) {
		parts := strings.Split(line, "\x00")
		if len(parts) < 2 {
			continue
		}

		tag := vcs.Tag{Name: parts[0], Commit: parts[1]}
		if len(parts) > 2 && parts[2] != "" {
			tag.Commit = parts[2]
		}
		tags = append(tags, tag)
	}
	return tags
}

// CreateTag creates a lightweight tag at commit.
// Returns vcs.ErrRefExists if the tag already exists.
func (r *Repo) CreateTag(ctx context.Context, name, commit string) error {
	if _, err := r.ResolveRef(ctx, "refs/tags/"+name); err == nil {
		return fmt.Errorf("%w: tag %s", vcs.ErrRefExists, name)
	} else if !errors.Is(err, vcs.ErrRefNotFound) {
		return err
	}

	if _, err := r.run(ctx, "tag", name, commit); err != nil {
		return fmt.Errorf("failed to create tag %s: %w", name, err)
	}
	return nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
// A commit is its own ancestor.
func (r *Repo) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	_, err := r.run(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	if vcs.ExitCode(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("git merge-base failed: %w", err)
}
