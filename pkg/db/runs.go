package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dtnitsch/pdf-batch-parser/models"
)

// Run represents one dispatcher invocation
type Run struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	Mode          string
	Classifier    string
	Discovered    int
	Dispatched    int
	SuccessCount  int
	FailedCount   int
	SkippedDone   int
	SkippedLedger int
}

// RunStats are the counters written when a run finishes
type RunStats struct {
	Discovered    int
	Dispatched    int
	SuccessCount  int
	FailedCount   int
	SkippedDone   int
	SkippedLedger int
}

// RunFile is the recorded outcome of one file in a run
type RunFile struct {
	Path         string
	Status       string
	ErrorType    string
	ErrorMessage string
	Attempts     int
	OutputFolder string
	ContentHash  string
	Worker       string
	DurationMS   int64
}

// CreateRun records the start of a run
func (db *DB) CreateRun(runID, mode, classifier string, startedAt time.Time) error {
	_, err := db.Exec(`
		INSERT INTO runs (run_id, started_at, mode, classifier)
		VALUES (?, ?, ?, ?)
	`, runID, startedAt.UTC(), mode, classifier)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// RecordOutcome stores the terminal outcome of a file. Recording the same
// path twice in a run keeps the latest outcome.
func (db *DB) RecordOutcome(runID string, o models.Outcome) error {
	_, err := db.Exec(`
		INSERT INTO run_files (run_id, path, status, error_type, error_message, attempts, output_folder, content_hash, worker, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, path) DO UPDATE SET
			status = excluded.status,
			error_type = excluded.error_type,
			error_message = excluded.error_message,
			attempts = excluded.attempts,
			output_folder = excluded.output_folder,
			content_hash = excluded.content_hash,
			worker = excluded.worker,
			duration_ms = excluded.duration_ms
	`, runID, o.Path, string(o.Status),
		NewNullString(o.ErrorType), NewNullString(o.Error),
		o.Attempts, NewNullString(o.OutputFolder), NewNullString(o.ContentHash),
		NewNullString(o.Worker), o.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", o.Path, err)
	}
	return nil
}

// FinishRun stores the final counters of a run
func (db *DB) FinishRun(runID string, stats RunStats, finishedAt time.Time) error {
	res, err := db.Exec(`
		UPDATE runs
		SET finished_at = ?, discovered = ?, dispatched = ?, success_count = ?,
		    failed_count = ?, skipped_done = ?, skipped_ledger = ?
		WHERE run_id = ?
	`, finishedAt.UTC(), stats.Discovered, stats.Dispatched, stats.SuccessCount,
		stats.FailedCount, stats.SkippedDone, stats.SkippedLedger, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

const runColumns = `run_id, started_at, finished_at, mode, classifier, discovered, dispatched,
	success_count, failed_count, skipped_done, skipped_ledger`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	err := row.Scan(
		&r.RunID,
		&r.StartedAt,
		&r.FinishedAt,
		&r.Mode,
		&r.Classifier,
		&r.Discovered,
		&r.Dispatched,
		&r.SuccessCount,
		&r.FailedCount,
		&r.SkippedDone,
		&r.SkippedLedger,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRun retrieves a run by its ID
func (db *DB) GetRun(runID string) (*Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// LatestRun returns the most recently started run
func (db *DB) LatestRun() (*Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no runs recorded")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first
func (db *DB) ListRuns(limit int) ([]Run, error) {
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRunFiles retrieves all file outcomes for a run
func (db *DB) GetRunFiles(runID string) ([]RunFile, error) {
	rows, err := db.Query(`
		SELECT path, status, error_type, error_message, attempts, output_folder, content_hash, worker, duration_ms
		FROM run_files
		WHERE run_id = ?
		ORDER BY path
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run files: %w", err)
	}
	defer rows.Close()

	var files []RunFile
	for rows.Next() {
		var f RunFile
		var errorType, errorMessage, outputFolder, contentHash, worker sql.NullString
		if err := rows.Scan(&f.Path, &f.Status, &errorType, &errorMessage, &f.Attempts,
			&outputFolder, &contentHash, &worker, &f.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan run file: %w", err)
		}
		f.ErrorType = errorType.String
		f.ErrorMessage = errorMessage.String
		f.OutputFolder = outputFolder.String
		f.ContentHash = contentHash.String
		f.Worker = worker.String
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get run files: %w", err)
	}
	return files, nil
}

// NewNullString maps an empty string to NULL
func NewNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
