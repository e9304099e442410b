// ABOUTME: Database schema definitions
// ABOUTME: Tables for durable queue records, quarantined blobs, sync state and drain history
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_records (
	namespace TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS quarantine (
	id TEXT PRIMARY KEY,
	namespace TEXT NOT NULL,
	value BLOB,
	reason TEXT NOT NULL,
	quarantined_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quarantine_namespace ON quarantine(namespace);

CREATE TABLE IF NOT EXISTS sync_state (
	service TEXT PRIMARY KEY,
	last_sync_time DATETIME,
	status TEXT CHECK(status IN ('idle', 'syncing', 'error')),
	error_message TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS drain_log (
	id TEXT PRIMARY KEY,
	service TEXT NOT NULL,
	attempted INTEGER NOT NULL DEFAULT 0,
	synced INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	conflicts INTEGER NOT NULL DEFAULT 0,
	skipped TEXT,
	errors TEXT,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_drain_log_service ON drain_log(service, finished_at DESC);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
