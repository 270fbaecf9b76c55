// Package db persists probe-run history: one row per run, one row per
// captured sample, in a local sqlite database.
package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	RunStatusActive  = "active"
	RunStatusDone    = "done"
	RunStatusStopped = "stopped"
	RunStatusFailed  = "failed"
)

// History is the run-history database.
type History struct {
	*sql.DB
}

// Open opens (creating if needed) the history database at path. The path
// ":memory:" yields an ephemeral database for tests.
func Open(path string) (*History, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	_, err = sqlDB.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id       TEXT PRIMARY KEY,
			started_at   TIMESTAMP,
			finished_at  TIMESTAMP,
			rows         INTEGER,
			cols         INTEGER,
			status       TEXT,
			error        TEXT
		);
		CREATE TABLE IF NOT EXISTS run_samples (
			run_id       TEXT,
			row          INTEGER,
			col          INTEGER,
			x            DOUBLE,
			y            DOUBLE,
			z            DOUBLE,
			captured_at  TIMESTAMP,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
	`)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	return &History{sqlDB}, nil
}

// Run is one probing run's summary row.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Rows       int
	Cols       int
	Status     string
	Error      string
}

// Sample is one captured grid point.
type Sample struct {
	RunID      uuid.UUID
	Row, Col   int
	X, Y, Z    float64
	CapturedAt time.Time
}

// StartRun records the beginning of a probing run.
func (h *History) StartRun(id uuid.UUID, rows, cols int, now time.Time) error {
	_, err := h.Exec(
		`INSERT INTO runs (run_id, started_at, rows, cols, status, error) VALUES (?, ?, ?, ?, ?, '')`,
		id.String(), now.UTC(), rows, cols, RunStatusActive,
	)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// FinishRun records a run's terminal status. errMsg is empty unless the run
// failed.
func (h *History) FinishRun(id uuid.UUID, status, errMsg string, now time.Time) error {
	_, err := h.Exec(
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE run_id = ?`,
		now.UTC(), status, errMsg, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

// RecordSample records one captured grid point for a run.
func (h *History) RecordSample(runID uuid.UUID, row, col int, x, y, z float64, now time.Time) error {
	_, err := h.Exec(
		`INSERT INTO run_samples (run_id, row, col, x, y, z, captured_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID.String(), row, col, x, y, z, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record sample: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (h *History) ListRuns(limit int) ([]Run, error) {
	rows, err := h.Query(
		`SELECT run_id, started_at, finished_at, rows, cols, status, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var id string
		var finished sql.NullTime
		if err := rows.Scan(&id, &r.StartedAt, &finished, &r.Rows, &r.Cols, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("bad run id %q: %w", id, err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunSamples returns a run's captured points in probe order.
func (h *History) RunSamples(runID uuid.UUID) ([]Sample, error) {
	rows, err := h.Query(
		`SELECT run_id, row, col, x, y, z, captured_at
		 FROM run_samples WHERE run_id = ? ORDER BY row, col`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		var id string
		if err := rows.Scan(&id, &s.Row, &s.Col, &s.X, &s.Y, &s.Z, &s.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		s.RunID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("bad run id %q: %w", id, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
