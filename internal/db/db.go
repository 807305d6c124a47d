package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB with intent-eval specific helpers.
type DB struct {
	*sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	d := &DB{DB: sqlDB, path: path}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// OpenMemory creates an in-memory SQLite database (useful for testing).
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}

	d := &DB{DB: sqlDB, path: ":memory:"}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// migrate runs all schema migrations.
func (d *DB) migrate() error {
	_, err := d.Exec(schema)
	return err
}

// schema contains the full database schema. New tables are added here.
//
// feedback_records is append-only: a row is written once when a record is
// finalized and never updated afterwards.
const schema = `
CREATE TABLE IF NOT EXISTS feedback_records (
    id TEXT PRIMARY KEY,
    created_at DATETIME NOT NULL,
    closed_at DATETIME NOT NULL,
    query TEXT NOT NULL,
    predicted_intent TEXT NOT NULL,
    predicted_slots TEXT NOT NULL DEFAULT '{}',
    confidence REAL NOT NULL DEFAULT 0,
    retrieved_docs TEXT NOT NULL DEFAULT '[]',
    actual_intent TEXT,
    actual_slots TEXT,
    feedback_source TEXT,
    feedback_signal TEXT,
    feedback_detail TEXT,
    feedback_at DATETIME,
    business_api TEXT,
    business_api_success INTEGER,
    business_converted INTEGER
);

CREATE INDEX IF NOT EXISTS idx_records_closed_at ON feedback_records(closed_at);
CREATE INDEX IF NOT EXISTS idx_records_intent ON feedback_records(predicted_intent);
CREATE INDEX IF NOT EXISTS idx_records_signal ON feedback_records(feedback_signal);

CREATE TABLE IF NOT EXISTS calibration_runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    failed INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    backup_path TEXT NOT NULL DEFAULT '',
    removed_count INTEGER NOT NULL DEFAULT 0,
    added_count INTEGER NOT NULL DEFAULT 0,
    library_size_before INTEGER NOT NULL DEFAULT 0,
    library_size_after INTEGER NOT NULL DEFAULT 0,
    actions TEXT NOT NULL DEFAULT '[]',
    alerts TEXT NOT NULL DEFAULT '[]',
    recommendations TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON calibration_runs(started_at);

CREATE TABLE IF NOT EXISTS alert_notifications (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    severity TEXT NOT NULL CHECK(severity IN ('info','warning','critical')),
    message TEXT NOT NULL,
    metric REAL,
    delivered INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_alerts_delivered ON alert_notifications(delivered);
CREATE INDEX IF NOT EXISTS idx_alerts_run ON alert_notifications(run_id);
`
