package ui

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/dontnod/pergit/internal/bridge"
	"github.com/dontnod/pergit/internal/journal"
	"github.com/dontnod/pergit/internal/vcs"
)

func TestMain(m *testing.M) {
	DisableColor()
	os.Exit(m.Run())
}

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func conflictResult() *bridge.Result {
	return &bridge.Result{
		Branch: "main",
		Tip:    "f00dfacef00dfacef00dfacef00dfacef00dface",
		Base:   bridge.Checkpoint{Changelist: 100, Commit: "abcabcabcabcabcabcabc", Tag: "p4-100"},
		Outcome: bridge.Outcome{
			Kind: bridge.Conflict,
			Changelists: []vcs.Changelist{{
				Number:      101,
				User:        "jdoe",
				Time:        now.Add(-2 * time.Hour),
				Description: "Fix shader\n\nLonger text",
				Files:       []vcs.FileRevision{{DepotPath: "//depot/proj/a.hlsl", Action: "edit", Revision: 3}},
			}},
			Commits: []vcs.Commit{{
				Hash:    "0123456789abcdef",
				Author:  vcs.Person{Name: "Ann", Email: "ann@example.com"},
				Time:    now.Add(-3 * 24 * time.Hour),
				Message: "Tweak lighting\n\nbody",
			}},
		},
	}
}

func TestNewReport(t *testing.T) {
	rep := NewReport(conflictResult(), "//depot/proj")

	assert.Equal(t, "conflict", rep.Outcome)
	require.NotNil(t, rep.Checkpoint)
	assert.Equal(t, "p4-100", rep.Checkpoint.Tag)
	require.Len(t, rep.PendingChangelists, 1)
	assert.Equal(t, "Fix shader", rep.PendingChangelists[0].Summary)
	assert.Equal(t, 1, rep.PendingChangelists[0].Files)
	require.Len(t, rep.PendingCommits, 1)
	assert.Equal(t, "Ann <ann@example.com>", rep.PendingCommits[0].Author)
	assert.Equal(t, "Tweak lighting", rep.PendingCommits[0].Subject)
}

func TestNewReport_FreshBranch(t *testing.T) {
	rep := NewReport(&bridge.Result{Branch: "main"}, "//depot/proj")
	assert.Nil(t, rep.Checkpoint)
	assert.Equal(t, "up-to-date", rep.Outcome)
}

func TestRenderReport_Conflict(t *testing.T) {
	var buf bytes.Buffer
	RenderReport(&buf, NewReport(conflictResult(), "//depot/proj"), now)
	out := buf.String()

	assert.Contains(t, out, "main and //depot/proj have diverged at p4-100 (abcabcabca)")
	assert.Contains(t, out, "101")
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "0123456789")
	assert.Contains(t, out, "3 days ago")
	assert.Contains(t, out, "Nothing was changed")
}

func TestRenderReport_Outcomes(t *testing.T) {
	base := bridge.Checkpoint{Changelist: 100, Commit: "abc", Tag: "p4-100"}

	tests := []struct {
		name string
		res  *bridge.Result
		want string
	}{
		{
			name: "up to date",
			res:  &bridge.Result{Branch: "main", Base: base},
			want: "main is up to date with //depot/proj at p4-100 (abc)",
		},
		{
			name: "pull",
			res: &bridge.Result{
				Branch:  "main",
				Base:    base,
				Outcome: bridge.Outcome{Kind: bridge.PullOnly, Changelists: []vcs.Changelist{{Number: 101}, {Number: 102}}},
				Applied: []bridge.Checkpoint{{Changelist: 101, Commit: "c1", Tag: "p4-101"}, {Changelist: 102, Commit: "c2", Tag: "p4-102"}},
			},
			want: "Pulled 2 changelists from //depot/proj into main",
		},
		{
			name: "pull dry run",
			res: &bridge.Result{
				Branch:  "main",
				Outcome: bridge.Outcome{Kind: bridge.PullOnly, Changelists: []vcs.Changelist{{Number: 1}}},
				DryRun:  true,
			},
			want: "1 changelist to pull from //depot/proj into main without a checkpoint",
		},
		{
			name: "push",
			res: &bridge.Result{
				Branch:  "main",
				Base:    base,
				Outcome: bridge.Outcome{Kind: bridge.PushOnly, Commits: []vcs.Commit{{Hash: "d1"}}},
				Applied: []bridge.Checkpoint{{Changelist: 103, Commit: "d1", Tag: "p4-103"}},
			},
			want: "Submitted 1 commit from main to //depot/proj",
		},
		{
			name: "push dry run",
			res: &bridge.Result{
				Branch:  "main",
				Base:    base,
				Outcome: bridge.Outcome{Kind: bridge.PushOnly, Commits: []vcs.Commit{{Hash: "d1"}, {Hash: "d2"}}},
				DryRun:  true,
			},
			want: "2 commits to submit from main to //depot/proj at p4-100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			RenderReport(&buf, NewReport(tt.res, "//depot/proj"), now)
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteYAML(&buf, NewReport(conflictResult(), "//depot/proj")))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "conflict", decoded["outcome"])
	assert.Equal(t, "//depot/proj", decoded["depot_path"])
	assert.Len(t, decoded["pending_commits"], 1)
	assert.NotContains(t, decoded, "applied")
}

func TestRenderHistory(t *testing.T) {
	var buf bytes.Buffer
	RenderHistory(&buf, nil, now)
	assert.Contains(t, buf.String(), "No runs recorded")

	runs := []journal.Run{
		{
			ID:         2,
			StartedAt:  now.Add(-time.Minute),
			FinishedAt: now.Add(-time.Minute + 1500*time.Millisecond),
			Branch:     "main",
			Outcome:    "pull",
			Units:      []journal.Unit{{Direction: "pull", Changelist: 101, Commit: "c1", Tag: "p4-101"}},
		},
		{
			ID:        1,
			StartedAt: now.Add(-time.Hour),
			Branch:    "main",
			Error:     "perforce server unreachable",
		},
	}

	buf.Reset()
	RenderHistory(&buf, runs, now)
	out := buf.String()
	assert.Contains(t, out, "1 minute ago")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "perforce server unreachable")
}

func TestNewHistory(t *testing.T) {
	entries := NewHistory([]journal.Run{{
		ID:                 7,
		Branch:             "main",
		BaseChangelist:     100,
		BaseCommit:         "abc",
		PendingChangelists: 2,
		Units:              []journal.Unit{{Direction: "pull", Changelist: 101, Commit: "c1", Tag: "p4-101"}},
	}})

	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Pending["changelists"])
	assert.Equal(t, 100, entries[0].Base.Changelist)
	assert.Equal(t, HistoryEntryUnit{Direction: "pull", Changelist: 101, Commit: "c1", Tag: "p4-101"}, entries[0].Applied[0])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("  short ", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
