package bridge

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontnod/pergit/internal/vcs"
	"github.com/dontnod/pergit/internal/vcs/git"
)

// setupGitRepo creates a real repository whose HEAD is the unborn test
// branch, and a fake depot mapped to its depot directory. Syncing a
// changelist writes "<file>@<changelist>" into each of its files.
func setupGitRepo(t *testing.T) (*git.Repo, *fakeP4) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	r, err := git.Init(context.Background(), t.TempDir(), git.Options{})
	require.NoError(t, err)

	gitCmd(t, r, "config", "user.name", "Test User")
	gitCmd(t, r, "config", "user.email", "test@example.com")
	gitCmd(t, r, "config", "commit.gpgsign", "false")
	gitCmd(t, r, "symbolic-ref", "HEAD", "refs/heads/"+testBranch)

	p := newFakeP4()
	p.root = filepath.Join(r.Root(), "depot")
	p.users["jdoe"] = vcs.Person{Name: "J Doe", Email: "jdoe@example.com"}
	p.onSync = func(n int) error {
		for _, cl := range p.changes {
			if cl.Number != n {
				continue
			}
			for _, f := range cl.Files {
				rel := strings.TrimPrefix(f.DepotPath, testDepot+"/")
				path := filepath.Join(p.root, filepath.FromSlash(rel))
				if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
					return err
				}
				if err := os.WriteFile(path, []byte(fmt.Sprintf("%s@%d\n", rel, n)), 0644); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return r, p
}

func gitCmd(t *testing.T, r *git.Repo, args ...string) string {
	t.Helper()

	out, err := exec.Command("git", append([]string{"-C", r.Root()}, args...)...).CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// commitFile writes rel and commits everything in the work tree.
func commitFile(t *testing.T, r *git.Repo, rel string) string {
	t.Helper()

	path := filepath.Join(r.Root(), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(rel+"@git\n"), 0644))

	gitCmd(t, r, "add", "--all")
	gitCmd(t, r, "commit", "-q", "-m", "edit "+rel)
	return gitCmd(t, r, "rev-parse", "HEAD")
}

func newGitSynchronizer(t *testing.T, r *git.Repo, p *fakeP4, opts Options) *Synchronizer {
	t.Helper()

	opts.Branch = testBranch
	opts.DepotPath = testDepot
	s, err := New(r, p, opts)
	require.NoError(t, err)
	return s
}

func TestGitPullAfterBranchSwitch(t *testing.T) {
	ctx := context.Background()
	r, p := setupGitRepo(t)

	gitCmd(t, r, "checkout", "-q", "-b", "other")
	other := commitFile(t, r, "other.txt")

	p.submit(5, "jdoe", "a.txt")
	p.submit(6, "jdoe", "b.txt")

	s := newGitSynchronizer(t, r, p, Options{})

	res, err := s.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.Len(t, res.Applied, 2)

	assert.Equal(t, testBranch, gitCmd(t, r, "symbolic-ref", "--short", "HEAD"))
	assert.Equal(t, other, gitCmd(t, r, "rev-parse", "other"))
	assert.Equal(t, gitCmd(t, r, "rev-parse", testBranch), gitCmd(t, r, "rev-parse", "p4-6^{commit}"))

	// the other branch's files stay in the work tree, untracked
	assert.Equal(t, "depot/a.txt\ndepot/b.txt", gitCmd(t, r, "ls-tree", "-r", "--name-only", testBranch))
	assert.Equal(t, "a.txt@5", gitCmd(t, r, "show", testBranch+":depot/a.txt"))
	assert.Equal(t, "?? other.txt", gitCmd(t, r, "status", "--porcelain"))

	staged, err := r.HasStagedChanges(ctx)
	require.NoError(t, err)
	assert.False(t, staged)
}

func TestGitConflictRestoresHead(t *testing.T) {
	ctx := context.Background()
	r, p := setupGitRepo(t)

	base := commitFile(t, r, "depot/a.txt")
	gitCmd(t, r, "tag", "p4-100", base)
	commitFile(t, r, "depot/b.txt")

	gitCmd(t, r, "checkout", "-q", "-b", "other")
	other := commitFile(t, r, "other.txt")

	p.submit(100, "jdoe", "a.txt")
	p.submit(101, "jdoe", "a.txt")

	s := newGitSynchronizer(t, r, p, Options{})

	_, err := s.Run(ctx, RunOptions{})
	require.ErrorIs(t, err, ErrConflict)

	assert.Equal(t, "other", gitCmd(t, r, "symbolic-ref", "--short", "HEAD"))
	assert.Equal(t, other, gitCmd(t, r, "rev-parse", "HEAD"))
	assert.Empty(t, gitCmd(t, r, "status", "--porcelain"))
	assert.Empty(t, p.synced)
}

func TestGitCancelledRunKeepsCheckpoint(t *testing.T) {
	r, p := setupGitRepo(t)

	base := commitFile(t, r, "depot/a.txt")
	gitCmd(t, r, "tag", "p4-100", base)

	p.submit(100, "jdoe", "a.txt")
	p.submit(101, "jdoe", "a.txt")
	p.submit(102, "jdoe", "b.txt")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newGitSynchronizer(t, r, p, Options{
		Observer: func(u Unit, s Stage) {
			if u.Changelist == 101 && s == Checkpointing {
				cancel()
			}
		},
	})

	res, err := s.Run(ctx, RunOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, res.Applied, 1)
	assert.Equal(t, gitCmd(t, r, "rev-parse", testBranch), gitCmd(t, r, "rev-parse", "p4-101^{commit}"))

	res, err = s.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 101, res.Base.Changelist)
	require.Len(t, res.Applied, 1)
	assert.Equal(t, "p4-102", res.Applied[0].Tag)

	res, err = s.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, UpToDate, res.Outcome.Kind)
}

func TestGitCommitFailureLeavesIndexClean(t *testing.T) {
	ctx := context.Background()
	r, p := setupGitRepo(t)

	base := commitFile(t, r, "depot/a.txt")
	gitCmd(t, r, "tag", "p4-100", base)

	p.submit(100, "jdoe", "a.txt")
	p.submit(101, "jdoe", "a.txt")

	// a stale ref lock makes the commit fail after the files are staged
	lock := filepath.Join(r.CommonDir(), "refs", "heads", testBranch+".lock")
	require.NoError(t, os.WriteFile(lock, nil, 0644))

	s := newGitSynchronizer(t, r, p, Options{})

	_, err := s.Run(ctx, RunOptions{})
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, Committing, applyErr.Stage)

	staged, err := r.HasStagedChanges(ctx)
	require.NoError(t, err)
	assert.False(t, staged)
	assert.Equal(t, base, gitCmd(t, r, "rev-parse", testBranch))

	require.NoError(t, os.Remove(lock))

	res, err := s.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	assert.Equal(t, "a.txt@101", gitCmd(t, r, "show", testBranch+":depot/a.txt"))
}
