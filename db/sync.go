// ABOUTME: Database operations for sync_state and drain_log tables
// ABOUTME: Records coordinator status and the outcome of every drain pass
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/fieldsync/models"
)

// Sync status values stored in sync_state.
const (
	SyncStatusIdle    = "idle"
	SyncStatusSyncing = "syncing"
	SyncStatusError   = "error"
)

// SyncState represents the coordinator status for a queue.
type SyncState struct {
	Service      string
	LastSyncTime *time.Time
	Status       string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GetSyncState retrieves the sync state for a service.
func GetSyncState(db *sql.DB, service string) (*SyncState, error) {
	var state SyncState
	var lastSyncTime sql.NullTime
	var errorMessage sql.NullString

	err := db.QueryRow(`
		SELECT service, last_sync_time, status, error_message, created_at, updated_at
		FROM sync_state
		WHERE service = ?
	`, service).Scan(
		&state.Service,
		&lastSyncTime,
		&state.Status,
		&errorMessage,
		&state.CreatedAt,
		&state.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	if lastSyncTime.Valid {
		state.LastSyncTime = &lastSyncTime.Time
	}
	if errorMessage.Valid {
		state.ErrorMessage = &errorMessage.String
	}

	return &state, nil
}

// UpdateSyncStatus updates the sync status for a service.
// A transition to idle also stamps last_sync_time.
func UpdateSyncStatus(db *sql.DB, service, status string, errorMsg *string) error {
	var errorMsgVal sql.NullString
	if errorMsg != nil {
		errorMsgVal = sql.NullString{String: *errorMsg, Valid: true}
	}

	_, err := db.Exec(`
		INSERT INTO sync_state (service, status, error_message, last_sync_time, created_at, updated_at)
		VALUES (?, ?, ?, CASE WHEN ? = 'idle' THEN CURRENT_TIMESTAMP END, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(service) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			last_sync_time = COALESCE(excluded.last_sync_time, sync_state.last_sync_time),
			updated_at = CURRENT_TIMESTAMP
	`, service, status, errorMsgVal, status)

	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}

	return nil
}

// RecordDrain appends a drain outcome to the drain log.
func RecordDrain(db *sql.DB, service string, res models.DrainResult) error {
	var errorsJSON sql.NullString
	if len(res.Errors) > 0 {
		data, err := json.Marshal(res.Errors)
		if err != nil {
			return fmt.Errorf("failed to marshal drain errors: %w", err)
		}
		errorsJSON = sql.NullString{String: string(data), Valid: true}
	}
	var skipped sql.NullString
	if res.Skipped != "" {
		skipped = sql.NullString{String: res.Skipped, Valid: true}
	}

	_, err := db.Exec(`
		INSERT INTO drain_log (id, service, attempted, synced, failed, conflicts, skipped, errors, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), service, res.Attempted, res.Synced, res.Failed, res.Conflicts,
		skipped, errorsJSON, res.StartedAt.UTC(), res.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record drain: %w", err)
	}
	return nil
}

// RecentDrains returns the latest drain outcomes for a service, newest first.
func RecentDrains(db *sql.DB, service string, limit int) ([]models.DrainResult, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.Query(`
		SELECT attempted, synced, failed, conflicts, skipped, errors, started_at, finished_at
		FROM drain_log
		WHERE service = ?
		ORDER BY finished_at DESC
		LIMIT ?
	`, service, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query drain log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []models.DrainResult
	for rows.Next() {
		var res models.DrainResult
		var skipped, errorsJSON sql.NullString
		if err := rows.Scan(&res.Attempted, &res.Synced, &res.Failed, &res.Conflicts,
			&skipped, &errorsJSON, &res.StartedAt, &res.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan drain log: %w", err)
		}
		res.Skipped = skipped.String
		if errorsJSON.Valid {
			if err := json.Unmarshal([]byte(errorsJSON.String), &res.Errors); err != nil {
				return nil, fmt.Errorf("failed to decode drain errors: %w", err)
			}
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating drain log: %w", err)
	}
	return results, nil
}

// DrainRecorder mirrors coordinator progress into sync_state and drain_log.
type DrainRecorder struct {
	DB      *sql.DB
	Service string
}

// DrainStarted marks the service as syncing.
func (r DrainRecorder) DrainStarted() error {
	return UpdateSyncStatus(r.DB, r.Service, SyncStatusSyncing, nil)
}

// DrainFinished logs the drain and marks the service idle, or error when actions failed.
func (r DrainRecorder) DrainFinished(res models.DrainResult) error {
	if err := RecordDrain(r.DB, r.Service, res); err != nil {
		return err
	}
	if n := res.Failed + res.Conflicts; n > 0 {
		msg := fmt.Sprintf("%d of %d actions failed to sync", n, res.Attempted)
		return UpdateSyncStatus(r.DB, r.Service, SyncStatusError, &msg)
	}
	return UpdateSyncStatus(r.DB, r.Service, SyncStatusIdle, nil)
}
