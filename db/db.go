// ABOUTME: Database connection management and initialization
// ABOUTME: Opens the local SQLite store in WAL mode with immediate write transactions
package db

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath returns the XDG-compliant location of the local store.
func DefaultPath() string {
	return filepath.Join(xdg.DataHome, "fieldsync", "fieldsync.db")
}

// OpenDatabase opens (creating if needed) the SQLite store at path.
// Write transactions take the database lock up front so that two processes
// sharing the file serialize their queue read/modify/write cycles.
func OpenDatabase(path string) (*sql.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// Configure connection pool for SQLite (avoid database locked errors)
	db.SetMaxOpenConns(1)

	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
