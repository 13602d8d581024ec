package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dontnod/pergit/internal/journal"
)

// RenderHistory prints journal runs, newest first.
func RenderHistory(w io.Writer, runs []journal.Run, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, RenderMuted("No runs recorded"))
		return
	}

	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"#", "Started", "Branch", "Outcome", "Units", "Took", "Error"})
	for _, r := range runs {
		outcome := r.Outcome
		switch {
		case outcome == "":
			outcome = "-"
		case r.DryRun:
			outcome += " (dry run)"
		}

		tbl.AppendRow(table.Row{
			r.ID,
			relTime(r.StartedAt, now),
			r.Branch,
			outcome,
			len(r.Units),
			r.Duration().Round(time.Millisecond),
			truncate(r.Error, 50),
		})
	}
	tbl.Render()
}

// HistoryEntry is the YAML form of a journal run.
type HistoryEntry struct {
	ID         int64              `yaml:"id"`
	StartedAt  time.Time          `yaml:"started_at"`
	FinishedAt time.Time          `yaml:"finished_at"`
	Branch     string             `yaml:"branch"`
	DepotPath  string             `yaml:"depot_path"`
	Outcome    string             `yaml:"outcome,omitempty"`
	DryRun     bool               `yaml:"dry_run"`
	Base       *CheckpointReport  `yaml:"base,omitempty"`
	Pending    map[string]int     `yaml:"pending"`
	Applied    []HistoryEntryUnit `yaml:"applied,omitempty"`
	Error      string             `yaml:"error,omitempty"`
}

// HistoryEntryUnit is one applied unit of a run.
type HistoryEntryUnit struct {
	Direction  string `yaml:"direction"`
	Changelist int    `yaml:"changelist"`
	Commit     string `yaml:"commit"`
	Tag        string `yaml:"tag"`
}

// NewHistory converts journal runs for YAML output.
func NewHistory(runs []journal.Run) []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(runs))
	for _, r := range runs {
		e := HistoryEntry{
			ID:         r.ID,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Branch:     r.Branch,
			DepotPath:  r.DepotPath,
			Outcome:    r.Outcome,
			DryRun:     r.DryRun,
			Pending: map[string]int{
				"changelists": r.PendingChangelists,
				"commits":     r.PendingCommits,
			},
			Error: r.Error,
		}
		if r.BaseChangelist > 0 {
			e.Base = &CheckpointReport{Changelist: r.BaseChangelist, Commit: r.BaseCommit}
		}
		for _, u := range r.Units {
			e.Applied = append(e.Applied, HistoryEntryUnit(u))
		}
		entries = append(entries, e)
	}
	return entries
}
