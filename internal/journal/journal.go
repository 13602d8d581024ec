// Package journal keeps a local history of synchronization runs.
//
// The journal is informational: it records what each run found and which
// units it applied, for `pergit history`. Checkpoints live in git tags
// only and the journal is never consulted to decide what to synchronize.
//
// Architecture:
//   - Database file: .git/pergit/journal.db (configurable)
//   - WAL mode so `pergit history` can read while a watch loop writes
//   - Schema: runs, units
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Run is one synchronization attempt.
type Run struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time

	Branch    string
	DepotPath string

	// Outcome is the classification (up-to-date, pull, push, conflict),
	// or empty when the run failed before classifying
	Outcome string

	BaseChangelist int
	BaseCommit     string

	PendingChangelists int
	PendingCommits     int

	DryRun bool

	// Error is the failure message; empty for successful runs
	Error string

	// Units lists the applied units in order
	Units []Unit
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Unit is one changelist or commit applied by a run.
type Unit struct {
	Direction  string
	Changelist int
	Commit     string
	Tag        string
}

// Journal wraps the sqlite database holding the run history.
type Journal struct {
	conn *sql.DB
	path string
}

// Open opens or creates the journal at path.
//
// The caller MUST call Close() when done.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	// per-connection settings go in the DSN so every pooled connection gets them
	conn, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	j := &Journal{conn: conn, path: path}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := j.initSchema(context.Background()); err != nil {
		_ = j.Close()
		return nil, err
	}

	return j, nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the database connection after checkpointing the WAL.
func (j *Journal) Close() error {
	if j.conn == nil {
		return nil
	}

	if _, err := j.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint journal WAL: %v\n", err)
	}

	if err := j.conn.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}

	j.conn = nil
	return nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		branch TEXT NOT NULL,
		depot_path TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT '',
		base_changelist INTEGER NOT NULL DEFAULT 0,
		base_commit TEXT NOT NULL DEFAULT '',
		pending_changelists INTEGER NOT NULL DEFAULT 0,
		pending_commits INTEGER NOT NULL DEFAULT 0,
		dry_run INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS units (
		run_id INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		direction TEXT NOT NULL,  -- pull, push
		changelist INTEGER NOT NULL,
		commit_hash TEXT NOT NULL,
		tag TEXT NOT NULL,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_branch ON runs(branch, started_at);
	`

	if _, err := j.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// Record stores a run and its units, returning the run ID.
func (j *Journal) Record(ctx context.Context, r Run) (int64, error) {
	tx, err := j.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (
			started_at, finished_at, branch, depot_path, outcome,
			base_changelist, base_commit, pending_changelists, pending_commits,
			dry_run, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Branch, r.DepotPath, r.Outcome,
		r.BaseChangelist, r.BaseCommit, r.PendingChangelists, r.PendingCommits,
		boolToInt(r.DryRun), r.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}

	for i, u := range r.Units {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO units (run_id, seq, direction, changelist, commit_hash, tag)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, u.Direction, u.Changelist, u.Commit, u.Tag,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert unit %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run: %w", err)
	}
	return id, nil
}

// Query filters Runs. Zero fields do not filter.
type Query struct {
	Branch string
	Since  time.Time
	Limit  int
}

// Runs returns matching runs, newest first, with their units.
func (j *Journal) Runs(ctx context.Context, q Query) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if q.Branch != "" {
		where = append(where, "branch = ?")
		args = append(args, q.Branch)
	}
	if !q.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, formatTime(q.Since))
	}

	query := `
		SELECT id, started_at, finished_at, branch, depot_path, outcome,
			base_changelist, base_commit, pending_changelists, pending_commits,
			dry_run, error
		FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := j.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
			dryRun            int
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Branch, &r.DepotPath, &r.Outcome,
			&r.BaseChangelist, &r.BaseCommit, &r.PendingChangelists, &r.PendingCommits,
			&dryRun, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		r.DryRun = dryRun != 0
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	for i := range runs {
		units, err := j.units(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Units = units
	}

	return runs, nil
}

func (j *Journal) units(ctx context.Context, runID int64) ([]Unit, error) {
	rows, err := j.conn.QueryContext(ctx, `
		SELECT direction, changelist, commit_hash, tag
		FROM units WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.Direction, &u.Changelist, &u.Commit, &u.Tag); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// Prune deletes runs started before cutoff and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := j.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := formatTime(cutoff)
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM units WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, ts); err != nil {
		return 0, fmt.Errorf("failed to prune units: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return n, nil
}

// formatTime uses a fixed-width UTC layout so text order is time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
