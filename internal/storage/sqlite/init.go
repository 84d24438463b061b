package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	operation TEXT NOT NULL,
	bucket TEXT NOT NULL,
	total INTEGER NOT NULL,
	successful INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	success_rate REAL NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_batches_finished_at ON batches (finished_at);
CREATE TABLE IF NOT EXISTS batch_failures (
	id INTEGER PRIMARY KEY,
	batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	identifier TEXT NOT NULL,
	cause TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_batch_failures_batch_id ON batch_failures (batch_id);
`

// InitDB opens the SQLite database at path and creates the history tables if they don't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path))
	if err != nil {
		return nil, err
	}

	// sqlite allows one writer; a single connection avoids SQLITE_BUSY between our own goroutines
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}
