package git

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dontnod/pergit/internal/vcs"
)

// HasStagedChanges returns true if the index differs from HEAD.
// On an unborn branch any index entry counts as staged.
func (r *Repo) HasStagedChanges(ctx context.Context) (bool, error) {
	if _, err := r.ResolveRef(ctx, "HEAD"); err != nil {
		if !errors.Is(err, vcs.ErrRefNotFound) {
			return false, err
		}
		output, lsErr := r.run(ctx, "ls-files", "--cached")
		if lsErr != nil {
			return false, fmt.Errorf("git ls-files failed: %w", lsErr)
		}
		return len(vcs.ParseLines(output)) > 0, nil
	}

	_, err := r.run(ctx, "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	if vcs.ExitCode(err) == 1 {
		return true, nil
	}
	return false, fmt.Errorf("git diff --cached failed: %w", err)
}

// Add stages the given paths, including deletions.
func (r *Repo) Add(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	_, err := r.runWith(ctx, vcs.Invocation{
		Args:  []string{"add", "--all", "--pathspec-from-file=-", "--pathspec-file-nul"},
		Stdin: pathspecInput(paths),
	})
	if err != nil {
		return fmt.Errorf("git add failed: %w", err)
	}

	return nil
}

// ResetIndex replaces the index with the tree of commit, or empties it
// when commit is empty. The work tree is not touched.
func (r *Repo) ResetIndex(ctx context.Context, commit string) error {
	args := []string{"read-tree", "--empty"}
	if commit != "" {
		args = []string{"read-tree", commit}
	}
	if _, err := r.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to reset the index: %w", err)
	}

	// read-tree drops stat data; refresh it so unchanged files are not
	// rehashed by every later command. Exit 1 only lists modified files.
	if _, err := r.run(ctx, "update-index", "-q", "--refresh"); err != nil && vcs.ExitCode(err) != 1 {
		return fmt.Errorf("git update-index failed: %w", err)
	}
	return nil
}

// Commit records the index as a new commit on the current branch and
// returns its hash.
func (r *Repo) Commit(ctx context.Context, opts vcs.CommitOptions) (string, error) {
	if opts.Message == "" {
		return "", fmt.Errorf("commit message is required")
	}

	// Build commit arguments
	args := []string{"commit", "--quiet", "--no-gpg-sign", "--file=-"}

	if opts.NoVerify {
		args = append(args, "--no-verify")
	}

	if opts.AllowEmpty {
		args = append(args, "--allow-empty")
	}

	var env []string
	if opts.Author.Name != "" {
		env = append(env, "GIT_AUTHOR_NAME="+opts.Author.Name, "GIT_AUTHOR_EMAIL="+opts.Author.Email)
	}
	if !opts.Date.IsZero() {
		env = append(env, "GIT_AUTHOR_DATE="+formatDate(opts.Date))
	}

	_, err := r.runWith(ctx, vcs.Invocation{
		Args:  args,
		Env:   env,
		Stdin: strings.NewReader(opts.Message),
	})
	if err != nil {
		return "", fmt.Errorf("git commit failed: %w", err)
	}

	return r.ResolveRef(ctx, "HEAD")
}

// formatDate renders t in git's internal "<unix> <offset>" date format.
func formatDate(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10) + " " + t.Format("-0700")
}

// RestoreFiles overwrites the given work tree paths with their content at
// commit, leaving the index alone.
func (r *Repo) RestoreFiles(ctx context.Context, commit string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	_, err := r.runWith(ctx, vcs.Invocation{
		Args: []string{
			"restore", "--source=" + commit, "--worktree",
			"--pathspec-from-file=-", "--pathspec-file-nul",
		},
		Stdin: pathspecInput(paths),
	})
	if err != nil {
		return fmt.Errorf("git restore failed: %w", err)
	}

	return nil
}
