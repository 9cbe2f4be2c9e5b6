package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the files table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows a single writer; serialising on one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS files (
		owner TEXT NOT NULL,
		remote_path TEXT NOT NULL,
		remote_id TEXT NOT NULL DEFAULT '',
		local_path TEXT NOT NULL DEFAULT '',
		length INTEGER NOT NULL DEFAULT 0,
		mime_type TEXT NOT NULL DEFAULT '',
		etag TEXT NOT NULL DEFAULT '',
		checksum TEXT NOT NULL DEFAULT '',
		modified_at TEXT NOT NULL DEFAULT '',
		last_synced_at TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (owner, remote_path)
	)`)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create files table: %w", err)
	}

	return db, nil
}
