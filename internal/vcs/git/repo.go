package git

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dontnod/pergit/internal/vcs"
)

// detect locates the repository enclosing path. The git directory and
// the common directory differ only inside a linked worktree; refs live in
// the latter.
func (r *Repo) detect(path string) error {
	dir, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	local := *r.runner
	local.Dir = dir

	out, err := local.Run(context.Background(), "rev-parse", "--git-dir", "--git-common-dir", "--show-toplevel")
	if err != nil {
		if vcs.IsFatal(err) {
			return err
		}
		return fmt.Errorf("%w: %s", vcs.ErrNotInVCS, dir)
	}

	fields := vcs.ParseLines(out)
	if len(fields) != 3 {
		// bare repositories print no top level
		return fmt.Errorf("%w: %s has no work tree", vcs.ErrNotInVCS, dir)
	}

	abs := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	r.vcsDir = abs(fields[0])
	r.commonDir = abs(fields[1])
	r.repoRoot = filepath.FromSlash(fields[2])
	if resolved, err := filepath.EvalSymlinks(r.repoRoot); err == nil {
		r.repoRoot = resolved
	}
	return nil
}

// Init creates a repository at path and opens it.
func Init(ctx context.Context, path string, opts Options) (*Repo, error) {
	runner := &vcs.Runner{Tool: vcs.TypeGit, Binary: opts.Binary, Dir: path, Trace: opts.Trace}
	if runner.Binary == "" {
		runner.Binary = "git"
	}
	if _, err := runner.Run(ctx, "init", "--quiet"); err != nil {
		return nil, fmt.Errorf("git init failed: %w", err)
	}
	return New(path, opts)
}
