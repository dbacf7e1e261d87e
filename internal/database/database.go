// Package database persists batch runs and per-row outcomes in sqlite for
// audit and the history API.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tasksync/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	db *sql.DB
}

func NewDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &DB{db: db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sync_runs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            client_id TEXT NOT NULL,
            started_at DATETIME NOT NULL,
            finished_at DATETIME,
            total INTEGER NOT NULL DEFAULT 0,
            succeeded INTEGER NOT NULL DEFAULT 0,
            failed INTEGER NOT NULL DEFAULT 0,
            skipped INTEGER NOT NULL DEFAULT 0,
            fatal_error TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE TABLE IF NOT EXISTS row_outcomes (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id INTEGER NOT NULL,
            row_index INTEGER NOT NULL,
            outcome TEXT NOT NULL,
            message TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY (run_id) REFERENCES sync_runs(id)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_row_outcomes_run_id ON row_outcomes(run_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// CreateRun inserts a new run record and returns its id.
func (d *DB) CreateRun(ctx context.Context, clientID string, startedAt time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx,
		`INSERT INTO sync_runs (client_id, started_at) VALUES (?, ?)`,
		clientID, startedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create sync run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

// FinishRun records the final counters of a run. fatalErr is empty for a
// completed batch.
func (d *DB) FinishRun(ctx context.Context, id int64, report models.BatchReport, fatalErr string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE sync_runs SET finished_at = ?, total = ?, succeeded = ?, failed = ?, skipped = ?, fatal_error = ? WHERE id = ?`,
		time.Now(), report.Total, report.Succeeded, report.Failed, report.Skipped, fatalErr, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish sync run: %w", err)
	}
	return nil
}

// AddRowOutcome stores one per-row outcome for a run.
func (d *DB) AddRowOutcome(ctx context.Context, runID int64, res models.RowResult) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO row_outcomes (run_id, row_index, outcome, message) VALUES (?, ?, ?, ?)`,
		runID, res.RowIndex, res.Outcome.String(), res.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to add row outcome: %w", err)
	}
	return nil
}

// GetRecentRuns returns the most recent runs, newest first.
func (d *DB) GetRecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, client_id, started_at, finished_at, total, succeeded, failed, skipped, fatal_error
         FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var r models.SyncRun
		if err := rows.Scan(&r.ID, &r.ClientID, &r.StartedAt, &r.FinishedAt, &r.Total, &r.Succeeded, &r.Failed, &r.Skipped, &r.FatalError); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRunOutcomes returns the per-row outcomes of one run in row order.
func (d *DB) GetRunOutcomes(ctx context.Context, runID int64) ([]models.RunOutcome, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, run_id, row_index, outcome, message FROM row_outcomes WHERE run_id = ? ORDER BY row_index ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get row outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.RunOutcome
	for rows.Next() {
		var o models.RunOutcome
		if err := rows.Scan(&o.ID, &o.RunID, &o.RowIndex, &o.Outcome, &o.Message); err != nil {
			return nil, fmt.Errorf("failed to scan row outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
