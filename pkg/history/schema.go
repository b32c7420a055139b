package history

// Schema defines the SQLite schema for flash run records: one row per
// pipeline run, terminal status updated when the run finishes.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL UNIQUE,
    action TEXT NOT NULL CHECK(action IN ('flash', 'backup')),
    port TEXT NOT NULL,
    image_ref TEXT,
    sha256 TEXT,
    status TEXT NOT NULL CHECK(status IN ('running', 'success', 'failed', 'aborted')),
    error_message TEXT,
    backup_path TEXT,
    started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_port ON runs(port);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Action constants
const (
	ActionFlash  = "flash"
	ActionBackup = "backup"
)

// Status constants
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusAborted = "aborted"
)

// Run represents one flash pipeline run record.
type Run struct {
	ID           int64
	RunID        string
	Action       string
	Port         string
	ImageRef     string
	SHA256       string
	Status       string
	ErrorMessage string
	BackupPath   string
	StartedAt    string
	FinishedAt   string
}
