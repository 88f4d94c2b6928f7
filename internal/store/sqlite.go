package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/seantiz/dutharness/internal/model"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    test_name   TEXT NOT NULL,
    status      TEXT NOT NULL,
    result      TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    finished_at DATETIME
)`

const createReportsTable = `
CREATE TABLE IF NOT EXISTS reports (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL,
    test_name   TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    status      TEXT NOT NULL,
    data        TEXT NOT NULL,
    created_at  DATETIME NOT NULL
)`

const createReportsIndex = `
CREATE INDEX IF NOT EXISTS idx_reports_run_seq ON reports (run_id, seq)`

// ErrNotFound is returned when a run is not found.
var ErrNotFound = errors.New("run not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" opens a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createRunsTable, createReportsTable, createReportsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveReport records r. A report tied to a run creates the run on first
// sight and moves it to r's status; a terminal report also stores the
// result and finish time. Reports that would leave a terminal run are
// rejected with ErrInvalidTransition and nothing is written.
func (s *SQLiteStore) SaveReport(ctx context.Context, r model.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if r.RunID != "" {
		if err := advanceRun(ctx, tx, r); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reports (run_id, test_name, seq, status, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.TestName, r.Seq, r.Status, r.Data, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit report: %w", err)
	}
	return nil
}

// advanceRun creates or updates the run row for r within tx.
func advanceRun(ctx context.Context, tx *sql.Tx, r model.Report) error {
	var current model.Status
	err := tx.QueryRowContext(ctx, "SELECT status FROM runs WHERE id = ?", r.RunID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		current = model.StatusInProgress
		_, err = tx.ExecContext(ctx,
			`INSERT INTO runs (id, test_name, status, created_at) VALUES (?, ?, ?, ?)`,
			r.RunID, r.TestName, current, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("get run status: %w", err)
	}

	if !model.ValidTransition(current, r.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, r.Status)
	}
	if !r.Status.Terminal() {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE runs SET status = ?, result = ?, finished_at = ? WHERE id = ?",
		r.Status, r.Data, r.CreatedAt, r.RunID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	run := &model.Run{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, test_name, status, result, created_at, finished_at
		FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.TestName, &run.Status, &run.Result, &run.CreatedAt, &run.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns a paginated list of runs ordered by created_at DESC,
// along with the total count of all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, test_name, status, result, created_at, finished_at
		FROM runs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run := &model.Run{}
		if err := rows.Scan(&run.ID, &run.TestName, &run.Status, &run.Result, &run.CreatedAt, &run.FinishedAt); err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

// GetReports returns the reports of a run ordered by sequence number.
func (s *SQLiteStore) GetReports(ctx context.Context, runID string) ([]model.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, test_name, seq, status, data, created_at
		FROM reports WHERE run_id = ? ORDER BY seq, id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get reports: %w", err)
	}
	defer rows.Close()

	var reports []model.Report
	for rows.Next() {
		var r model.Report
		if err := rows.Scan(&r.RunID, &r.TestName, &r.Seq, &r.Status, &r.Data, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return reports, nil
}

// GetRunStats returns run counts by status and by test case name.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &RunStats{
		CountByStatus: make(map[string]int),
		CountByTest:   make(map[string]int),
	}

	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&stats.Reports); err != nil {
		return nil, fmt.Errorf("count reports: %w", err)
	}
	if err := countBy(ctx, tx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := countBy(ctx, tx, "test_name", stats.CountByTest); err != nil {
		return nil, err
	}
	return stats, nil
}

// countBy fills dst with run counts grouped by column, which must be a
// trusted column name.
func countBy(ctx context.Context, tx *sql.Tx, column string, dst map[string]int) error {
	rows, err := tx.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM runs GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count runs by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		dst[key] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s counts: %w", column, err)
	}
	return nil
}
