package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS history_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    title_normalized TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    topic TEXT,
    excerpt TEXT,
    snippet TEXT,
    unit TEXT,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS history_meta (
    key TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);

INSERT OR IGNORE INTO history_meta (key, value) VALUES ('version', 0);

CREATE INDEX IF NOT EXISTS idx_history_hash ON history_records(content_hash);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "run reports",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS run_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    unit TEXT NOT NULL,
    topic TEXT,
    status TEXT NOT NULL CHECK(status IN ('ok', 'failed')),
    provider TEXT,
    title TEXT,
    error_kind TEXT,
    error_message TEXT,
    attempts INTEGER DEFAULT 0,
    duration_ms INTEGER DEFAULT 0,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_run_reports_run ON run_reports(run_id);
CREATE INDEX IF NOT EXISTS idx_history_created ON history_records(created_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
