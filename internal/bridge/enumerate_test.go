package bridge

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontnod/pergit/internal/vcs"
)

func TestPerforceSince(t *testing.T) {
	p := newFakeP4()
	p.submit(100, "jdoe", "a.txt")
	p.submit(102, "asmith", "b.txt")
	p.submit(101, "jdoe", "c.txt")
	p.users["jdoe"] = vcs.Person{Name: "Jane Doe", Email: "jdoe@example.com"}

	e := NewEnumerator(newFakeGit(), p, testDepot)

	cls, err := Drain(e.PerforceSince(context.Background(), 100))
	require.NoError(t, err)
	require.Len(t, cls, 2)
	assert.Equal(t, 101, cls[0].Number)
	assert.Equal(t, 102, cls[1].Number)
	assert.Equal(t, "Jane Doe <jdoe@example.com>", cls[0].Author.String())
	assert.Equal(t, "asmith", cls[1].Author.Name)
}

func TestPerforceSinceIsLazy(t *testing.T) {
	p := newFakeP4()
	p.submit(1, "jdoe")
	p.submit(2, "jdoe")
	p.submit(3, "jdoe")

	e := NewEnumerator(newFakeGit(), p, testDepot)

	pending, err := Pending(e.PerforceSince(context.Background(), 0))
	require.NoError(t, err)
	assert.True(t, pending)
	assert.Equal(t, []int{1}, p.described)

	pending, err = Pending(e.PerforceSince(context.Background(), 3))
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestGitSince(t *testing.T) {
	ctx := context.Background()
	g := newFakeGit()
	g.commit("root", nil)
	g.commit("abc", nil)
	g.sideCommit("s1", "abc")
	g.commit("x1", nil)
	g.commit("x2", nil, "s1")

	e := NewEnumerator(g, newFakeP4(), testDepot)

	commits, err := Drain(e.GitSince(ctx, "abc", "x2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x1", "x2"}, hashes(commits))

	commits, err = Drain(e.GitSince(ctx, "", "x2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "abc", "x1", "x2"}, hashes(commits))

	commits, err = Drain(e.GitSince(ctx, "x2", "x2"))
	require.NoError(t, err)
	assert.Empty(t, commits)

	commits, err = Drain(e.GitSince(ctx, "", ""))
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestGitSinceDetached(t *testing.T) {
	ctx := context.Background()
	g := newFakeGit()
	g.commit("a", nil)
	g.sideCommit("gone", "a")
	g.commit("b", nil)

	e := NewEnumerator(g, newFakeP4(), testDepot)

	_, err := Drain(e.GitSince(ctx, "gone", "b"))
	assert.ErrorIs(t, err, ErrDetachedCheckpoint)
}

func TestGitSinceOffFirstParent(t *testing.T) {
	g := newFakeGit()
	g.commit("a", nil)
	g.sideCommit("side", "a")
	g.commit("b", nil)
	g.commit("merge", nil, "side")

	e := NewEnumerator(g, newFakeP4(), testDepot)

	_, err := Drain(e.GitSince(context.Background(), "side", "merge"))
	assert.ErrorIs(t, err, ErrDetachedCheckpoint)
}

func TestDrainStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	var seq iter.Seq2[int, error] = func(yield func(int, error) bool) {
		if !yield(1, nil) {
			return
		}
		if !yield(0, boom) {
			return
		}
		yield(2, nil)
	}

	out, err := Drain(seq)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, out)

	pending, err := Pending(seq)
	require.NoError(t, err)
	assert.True(t, pending)
}

func hashes(commits []vcs.Commit) []string {
	var out []string
	for _, c := range commits {
		out = append(out, c.Hash)
	}
	return out
}
