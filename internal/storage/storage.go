// Package storage persists registry snapshots, state history, enrichment
// details and run records in a single sqlite database.
//
// All run output is committed in one transaction so a crash or failure
// mid-write can never leave the snapshot and the history disagreeing.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pfrederiksen/seia-monitor/internal/project"
)

// ErrSuspectSnapshot rejects a commit whose scrape came back empty while
// the store already tracks projects. An empty listing on a populated
// registry is a scrape failure, not a mass withdrawal.
var ErrSuspectSnapshot = errors.New("storage: refusing empty snapshot over populated store")

// CommitError wraps a persistence failure with the operation that failed.
type CommitError struct {
	Op  string
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed during %s: %v", e.Op, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Store is a sqlite-backed snapshot store.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS projects_current (
	identifier       TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	titular          TEXT,
	region           TEXT,
	type             TEXT,
	submission_date  TEXT,
	raw_state        TEXT,
	normalized_state TEXT,
	detail_url       TEXT,
	first_seen       TEXT NOT NULL,
	last_updated     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS project_history (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	identifier         TEXT NOT NULL,
	name               TEXT,
	region             TEXT,
	previous_raw_state TEXT,
	new_raw_state      TEXT,
	previous_state     TEXT,
	new_state          TEXT NOT NULL,
	is_relevant        INTEGER NOT NULL DEFAULT 0,
	detected_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_identifier
	ON project_history(identifier, detected_at);

CREATE TABLE IF NOT EXISTS project_details (
	identifier        TEXT PRIMARY KEY,
	full_name         TEXT,
	project_type      TEXT,
	investment_amount TEXT,
	description       TEXT,
	titular           TEXT,
	legal_rep         TEXT,
	incomplete        INTEGER NOT NULL DEFAULT 0,
	scraped_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS monitor_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at      TEXT NOT NULL,
	finished_at     TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	method          TEXT,
	pages_fetched   INTEGER NOT NULL DEFAULT 0,
	records_scraped INTEGER NOT NULL DEFAULT 0,
	new_count       INTEGER NOT NULL DEFAULT 0,
	transition_count INTEGER NOT NULL DEFAULT 0,
	relevant_count  INTEGER NOT NULL DEFAULT 0,
	error           TEXT
);
`

// Open opens (creating if needed) the database at path and applies the
// schema. The parent directory is created when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + path +
		"?_pragma=busy_timeout(10000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(ON)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; pooling extra connections just trades
	// lock errors for busy_timeout waits.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// LoadSnapshot returns the current view of every tracked project, keyed
// by identifier. An empty store yields an empty map.
func (s *Store) LoadSnapshot(ctx context.Context) (map[string]*project.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identifier, name, titular, region, type, submission_date,
		       raw_state, normalized_state, detail_url, first_seen, last_updated
		FROM projects_current`)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[string]*project.Record)
	for rows.Next() {
		var r project.Record
		var firstSeen, lastUpdated string
		if err := rows.Scan(&r.Identifier, &r.Name, &r.Titular, &r.Region, &r.Type,
			&r.SubmissionDate, &r.RawState, &r.NormalizedState, &r.DetailURL,
			&firstSeen, &lastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		r.FirstSeen = parseTime(firstSeen)
		r.LastUpdated = parseTime(lastUpdated)
		snapshot[r.Identifier] = &r
	}
	return snapshot, rows.Err()
}

// CommitRun persists a completed run atomically: snapshot upserts, history
// appends, enrichment details and the run record all land in one
// transaction. On error nothing is written and the previous snapshot
// stays intact. On success run.ID carries the assigned row ID.
func (s *Store) CommitRun(ctx context.Context, cs *project.ChangeSet, run *project.Run) error {
	if len(cs.Snapshot) == 0 {
		count, err := s.snapshotCount(ctx)
		if err != nil {
			return &CommitError{Op: "snapshot guard", Err: err}
		}
		if count > 0 {
			return &CommitError{Op: "snapshot guard", Err: ErrSuspectSnapshot}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &CommitError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	for _, r := range cs.Snapshot {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projects_current
				(identifier, name, titular, region, type, submission_date,
				 raw_state, normalized_state, detail_url, first_seen, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(identifier) DO UPDATE SET
				name = excluded.name,
				titular = excluded.titular,
				region = excluded.region,
				type = excluded.type,
				submission_date = excluded.submission_date,
				raw_state = excluded.raw_state,
				normalized_state = excluded.normalized_state,
				detail_url = excluded.detail_url,
				last_updated = excluded.last_updated`,
			r.Identifier, r.Name, r.Titular, r.Region, r.Type, r.SubmissionDate,
			r.RawState, r.NormalizedState, r.DetailURL,
			formatTime(r.FirstSeen), formatTime(r.LastUpdated)); err != nil {
			return &CommitError{Op: "snapshot upsert", Err: err}
		}
	}

	for _, ch := range cs.Changes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO project_history
				(identifier, name, region, previous_raw_state, new_raw_state,
				 previous_state, new_state, is_relevant, detected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ch.Identifier, ch.Name, ch.Region, ch.PreviousRawState, ch.NewRawState,
			ch.PreviousState, ch.NewState, boolToInt(ch.IsRelevant),
			formatTime(ch.Timestamp)); err != nil {
			return &CommitError{Op: "history append", Err: err}
		}
	}

	for _, d := range cs.Details {
		if err := upsertDetails(ctx, tx, d); err != nil {
			return &CommitError{Op: "details upsert", Err: err}
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
			(started_at, finished_at, outcome, method, pages_fetched,
			 records_scraped, new_count, transition_count, relevant_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(run.StartedAt), formatTime(run.FinishedAt), string(run.Outcome),
		run.Method, run.PagesFetched, run.RecordsScraped, run.NewCount,
		run.TransitionCount, run.RelevantCount, run.Error)
	if err != nil {
		return &CommitError{Op: "run record", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &CommitError{Op: "commit", Err: err}
	}

	if id, err := res.LastInsertId(); err == nil {
		run.ID = id
	}
	return nil
}

// RecordRun writes a run record outside any commit. Used for failed runs,
// which must leave every other table untouched while still being visible
// in the run log.
func (s *Store) RecordRun(ctx context.Context, run *project.Run) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
			(started_at, finished_at, outcome, method, pages_fetched,
			 records_scraped, new_count, transition_count, relevant_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(run.StartedAt), formatTime(run.FinishedAt), string(run.Outcome),
		run.Method, run.PagesFetched, run.RecordsScraped, run.NewCount,
		run.TransitionCount, run.RelevantCount, run.Error)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	if id, idErr := res.LastInsertId(); idErr == nil {
		run.ID = id
	}
	return nil
}

// SaveDetails upserts enrichment details outside a run commit.
func (s *Store) SaveDetails(ctx context.Context, d *project.Details) error {
	return upsertDetails(ctx, s.db, d)
}

// LastRun returns the most recent run record, or nil for a fresh store.
func (s *Store) LastRun(ctx context.Context) (*project.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, outcome, method, pages_fetched,
		       records_scraped, new_count, transition_count, relevant_count, error
		FROM runs ORDER BY id DESC LIMIT 1`)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// History returns the state changes recorded for one project, newest
// first, capped at limit (0 means no cap).
func (s *Store) History(ctx context.Context, identifier string, limit int) ([]*project.StateChange, error) {
	query := `
		SELECT identifier, name, region, previous_raw_state, new_raw_state,
		       previous_state, new_state, is_relevant, detected_at
		FROM project_history
		WHERE identifier = ?
		ORDER BY id DESC`
	args := []interface{}{identifier}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var changes []*project.StateChange
	for rows.Next() {
		var ch project.StateChange
		var relevant int
		var detectedAt string
		if err := rows.Scan(&ch.Identifier, &ch.Name, &ch.Region,
			&ch.PreviousRawState, &ch.NewRawState, &ch.PreviousState,
			&ch.NewState, &relevant, &detectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		ch.IsRelevant = relevant != 0
		ch.Timestamp = parseTime(detectedAt)
		changes = append(changes, &ch)
	}
	return changes, rows.Err()
}

// Details returns the stored enrichment for one project, or nil when none
// has been captured.
func (s *Store) Details(ctx context.Context, identifier string) (*project.Details, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT identifier, full_name, project_type, investment_amount,
		       description, titular, legal_rep, incomplete, scraped_at
		FROM project_details WHERE identifier = ?`, identifier)

	var d project.Details
	var titularJSON, legalRepJSON, scrapedAt string
	var incomplete int
	err := row.Scan(&d.Identifier, &d.FullName, &d.ProjectType,
		&d.InvestmentAmount, &d.Description, &titularJSON, &legalRepJSON,
		&incomplete, &scrapedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load details: %w", err)
	}

	d.Incomplete = incomplete != 0
	d.ScrapedAt = parseTime(scrapedAt)
	if titularJSON != "" {
		json.Unmarshal([]byte(titularJSON), &d.Titular)
	}
	if legalRepJSON != "" {
		json.Unmarshal([]byte(legalRepJSON), &d.LegalRep)
	}
	return &d, nil
}

// StateCounts returns the number of tracked projects per normalized state.
func (s *Store) StateCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT normalized_state, COUNT(*) FROM projects_current
		GROUP BY normalized_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count states: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

func (s *Store) snapshotCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects_current`).Scan(&count)
	return count, err
}

// execer covers *sql.DB and *sql.Tx for the shared upsert.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func upsertDetails(ctx context.Context, e execer, d *project.Details) error {
	titularJSON, err := json.Marshal(d.Titular)
	if err != nil {
		return err
	}
	legalRepJSON, err := json.Marshal(d.LegalRep)
	if err != nil {
		return err
	}

	_, err = e.ExecContext(ctx, `
		INSERT INTO project_details
			(identifier, full_name, project_type, investment_amount,
			 description, titular, legal_rep, incomplete, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			full_name = excluded.full_name,
			project_type = excluded.project_type,
			investment_amount = excluded.investment_amount,
			description = excluded.description,
			titular = excluded.titular,
			legal_rep = excluded.legal_rep,
			incomplete = excluded.incomplete,
			scraped_at = excluded.scraped_at`,
		d.Identifier, d.FullName, d.ProjectType, d.InvestmentAmount,
		d.Description, string(titularJSON), string(legalRepJSON),
		boolToInt(d.Incomplete), formatTime(d.ScrapedAt))
	return err
}

func scanRun(row *sql.Row) (*project.Run, error) {
	var run project.Run
	var startedAt, finishedAt, outcome string
	if err := row.Scan(&run.ID, &startedAt, &finishedAt, &outcome, &run.Method,
		&run.PagesFetched, &run.RecordsScraped, &run.NewCount,
		&run.TransitionCount, &run.RelevantCount, &run.Error); err != nil {
		return nil, err
	}
	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTime(finishedAt)
	run.Outcome = project.Outcome(outcome)
	return &run, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
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
