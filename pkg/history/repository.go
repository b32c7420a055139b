// Package history records flash pipeline runs in a local SQLite
// database so operators can audit what was flashed where, and with
// which outcome.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/HubertFeldmann/tasmotizer/pkg/errors"
)

// Repository provides database operations for run records.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (and if needed creates) the history database.
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("history_db_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("history_db_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open history database")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("history_db_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	return &Repository{db: db}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new run record in the running state.
func (r *Repository) Create(run *Run) error {
	slog.Info("history_create_run", "run_id", run.RunID, "action", run.Action, "port", run.Port)

	query := `
		INSERT INTO runs (run_id, action, port, image_ref, sha256, status, error_message, backup_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		run.RunID, run.Action, run.Port, run.ImageRef, run.SHA256,
		run.Status, run.ErrorMessage, run.BackupPath)
	if err != nil {
		slog.Error("history_insert_failed", "run_id", run.RunID, "error", err)
		return errors.Wrap(err, "failed to insert run")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}
	run.ID = id
	return nil
}

// Finish records the terminal outcome of a run.
func (r *Repository) Finish(runID, status, errorMessage, backupPath string) error {
	slog.Info("history_finish_run", "run_id", runID, "status", status)

	query := `
		UPDATE runs
		SET status = ?, error_message = ?, backup_path = ?, finished_at = CURRENT_TIMESTAMP
		WHERE run_id = ?
	`
	result, err := r.db.Exec(query, status, errorMessage, backupPath, runID)
	if err != nil {
		slog.Error("history_update_failed", "run_id", runID, "error", err)
		return errors.Wrap(err, "failed to update run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// SetSHA256 records the resolved image digest once it is known.
func (r *Repository) SetSHA256(runID, sha string) error {
	_, err := r.db.Exec(`UPDATE runs SET sha256 = ? WHERE run_id = ?`, sha, runID)
	if err != nil {
		return errors.Wrap(err, "failed to update sha256")
	}
	return nil
}

// GetByRunID retrieves one run record, or nil when absent.
func (r *Repository) GetByRunID(runID string) (*Run, error) {
	query := `
		SELECT id, run_id, action, port, image_ref, sha256, status,
		       error_message, backup_path, started_at, finished_at
		FROM runs WHERE run_id = ?
	`
	run, err := scanRun(r.db.QueryRow(query, runID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query run")
	}
	return run, nil
}

// List retrieves all runs, newest first.
func (r *Repository) List() ([]*Run, error) {
	query := `
		SELECT id, run_id, action, port, image_ref, sha256, status,
		       error_message, backup_path, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var imageRef, sha, errorMessage, backupPath, finishedAt sql.NullString

	err := row.Scan(
		&run.ID, &run.RunID, &run.Action, &run.Port,
		&imageRef, &sha, &run.Status,
		&errorMessage, &backupPath, &run.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	run.ImageRef = imageRef.String
	run.SHA256 = sha.String
	run.ErrorMessage = errorMessage.String
	run.BackupPath = backupPath.String
	run.FinishedAt = finishedAt.String
	return &run, nil
}
