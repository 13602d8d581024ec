package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/dontnod/pergit/internal/bridge"
	"github.com/dontnod/pergit/internal/vcs"
)

// Report is the printable form of a run.
type Report struct {
	Branch     string            `yaml:"branch"`
	DepotPath  string            `yaml:"depot_path"`
	Tip        string            `yaml:"tip,omitempty"`
	Checkpoint *CheckpointReport `yaml:"checkpoint,omitempty"`
	Outcome    string            `yaml:"outcome"`
	DryRun     bool              `yaml:"dry_run"`

	PendingChangelists []ChangelistReport `yaml:"pending_changelists,omitempty"`
	PendingCommits     []CommitReport     `yaml:"pending_commits,omitempty"`
	Applied            []CheckpointReport `yaml:"applied,omitempty"`
}

// CheckpointReport is a checkpoint tag.
type CheckpointReport struct {
	Changelist int    `yaml:"changelist"`
	Commit     string `yaml:"commit"`
	Tag        string `yaml:"tag"`
}

// ChangelistReport summarizes a pending changelist.
type ChangelistReport struct {
	Number  int       `yaml:"number"`
	User    string    `yaml:"user"`
	Time    time.Time `yaml:"time"`
	Summary string    `yaml:"summary"`
	Files   int       `yaml:"files"`
}

// CommitReport summarizes a pending commit.
type CommitReport struct {
	Hash    string    `yaml:"hash"`
	Author  string    `yaml:"author"`
	Time    time.Time `yaml:"time"`
	Subject string    `yaml:"subject"`
}

// NewReport converts a run result.
func NewReport(res *bridge.Result, depotPath string) Report {
	rep := Report{
		Branch:    res.Branch,
		DepotPath: depotPath,
		Tip:       res.Tip,
		Outcome:   res.Outcome.Kind.String(),
		DryRun:    res.DryRun,
	}

	if !res.Base.IsZero() {
		rep.Checkpoint = checkpointReport(res.Base)
	}

	for _, cl := range res.Outcome.Changelists {
		summary := vcs.FirstLine(cl.Description)
		rep.PendingChangelists = append(rep.PendingChangelists, ChangelistReport{
			Number:  cl.Number,
			User:    cl.User,
			Time:    cl.Time,
			Summary: summary,
			Files:   len(cl.Files),
		})
	}

	for _, c := range res.Outcome.Commits {
		rep.PendingCommits = append(rep.PendingCommits, CommitReport{
			Hash:    c.Hash,
			Author:  c.Author.String(),
			Time:    c.Time,
			Subject: c.Subject(),
		})
	}

	for _, cp := range res.Applied {
		rep.Applied = append(rep.Applied, *checkpointReport(cp))
	}

	return rep
}

func checkpointReport(cp bridge.Checkpoint) *CheckpointReport {
	return &CheckpointReport{Changelist: cp.Changelist, Commit: cp.Commit, Tag: cp.Tag}
}

// WriteYAML encodes v as a YAML document.
func WriteYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}

// RenderReport prints rep as text. Times are shown relative to now.
func RenderReport(w io.Writer, rep Report, now time.Time) {
	at := "without a checkpoint"
	if rep.Checkpoint != nil {
		at = fmt.Sprintf("at %s (%s)", rep.Checkpoint.Tag, shortHash(rep.Checkpoint.Commit))
	}

	switch rep.Outcome {
	case bridge.UpToDate.String():
		fmt.Fprintf(w, "%s %s is up to date with %s %s\n",
			RenderPass("✓"), RenderBold(rep.Branch), rep.DepotPath, at)

	case bridge.PullOnly.String():
		n := len(rep.PendingChangelists)
		if rep.DryRun {
			fmt.Fprintf(w, "%s %s to pull from %s into %s %s\n",
				RenderAccent("→"), plural(n, "changelist"), rep.DepotPath, RenderBold(rep.Branch), at)
			renderChangelists(w, rep.PendingChangelists, now)
			return
		}
		fmt.Fprintf(w, "%s Pulled %s from %s into %s\n",
			RenderPass("✓"), plural(len(rep.Applied), "changelist"), rep.DepotPath, RenderBold(rep.Branch))
		renderApplied(w, rep.Applied)

	case bridge.PushOnly.String():
		n := len(rep.PendingCommits)
		if rep.DryRun {
			fmt.Fprintf(w, "%s %s to submit from %s to %s %s\n",
				RenderAccent("→"), plural(n, "commit"), RenderBold(rep.Branch), rep.DepotPath, at)
			renderCommits(w, rep.PendingCommits, now)
			return
		}
		fmt.Fprintf(w, "%s Submitted %s from %s to %s\n",
			RenderPass("✓"), plural(len(rep.Applied), "commit"), RenderBold(rep.Branch), rep.DepotPath)
		renderApplied(w, rep.Applied)

	case bridge.Conflict.String():
		fmt.Fprintf(w, "%s %s and %s have diverged %s\n",
			RenderFail("✗"), RenderBold(rep.Branch), rep.DepotPath, at)
		fmt.Fprintf(w, "\n%s\n", RenderWarn("Perforce side:"))
		renderChangelists(w, rep.PendingChangelists, now)
		fmt.Fprintf(w, "\n%s\n", RenderWarn("Git side:"))
		renderCommits(w, rep.PendingCommits, now)
		fmt.Fprintf(w, "\n%s\n", RenderMuted("Nothing was changed. Bring one side up to date by hand, then run sync again."))
	}
}

func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.SeparateRows = false
	return tbl
}

func renderChangelists(w io.Writer, cls []ChangelistReport, now time.Time) {
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"Change", "User", "When", "Files", "Summary"})
	for _, cl := range cls {
		tbl.AppendRow(table.Row{cl.Number, cl.User, relTime(cl.Time, now), cl.Files, truncate(cl.Summary, 60)})
	}
	tbl.Render()
}

func renderCommits(w io.Writer, commits []CommitReport, now time.Time) {
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"Commit", "Author", "When", "Subject"})
	for _, c := range commits {
		tbl.AppendRow(table.Row{shortHash(c.Hash), c.Author, relTime(c.Time, now), truncate(c.Subject, 60)})
	}
	tbl.Render()
}

func renderApplied(w io.Writer, applied []CheckpointReport) {
	if len(applied) == 0 {
		return
	}
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"Change", "Commit", "Tag"})
	for _, cp := range applied {
		tbl.AppendRow(table.Row{cp.Changelist, shortHash(cp.Commit), cp.Tag})
	}
	tbl.Render()
}

func relTime(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}

func shortHash(h string) string {
	return vcs.Commit{Hash: h}.ShortHash()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
