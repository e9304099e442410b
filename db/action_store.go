// ABOUTME: SQLite-backed durable store for the offline action queue
// ABOUTME: Keeps the queue as one JSON record and quarantines unreadable records
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/harperreed/fieldsync/models"
)

// ActionStore implements queue.Store on top of the kv_records table.
type ActionStore struct {
	db        *sql.DB
	namespace string
	logger    *log.Logger
}

// NewActionStore creates a store for the queue record stored under namespace.
func NewActionStore(db *sql.DB, namespace string, logger *log.Logger) *ActionStore {
	if logger == nil {
		logger = log.Default()
	}
	return &ActionStore{db: db, namespace: namespace, logger: logger.WithPrefix("store")}
}

// Load returns the persisted queue. A corrupt record is quarantined and treated as empty.
func (s *ActionStore) Load(ctx context.Context) ([]models.Action, error) {
	var actions []models.Action
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		actions, err = s.load(ctx, tx)
		return err
	})
	return actions, err
}

// Update runs fn inside one write transaction and persists its result.
func (s *ActionStore) Update(ctx context.Context, fn func([]models.Action) ([]models.Action, error)) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		actions, err := s.load(ctx, tx)
		if err != nil {
			return err
		}

		next, err := fn(actions)
		if err != nil {
			return err
		}
		if next == nil {
			next = []models.Action{}
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal queue: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO kv_records (namespace, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(namespace) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at
		`, s.namespace, data, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to write queue: %w", err)
		}
		return nil
	})
}

func (s *ActionStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit queue: %w", err)
	}
	return nil
}

func (s *ActionStore) load(ctx context.Context, tx *sql.Tx) ([]models.Action, error) {
	var raw []byte
	err := tx.QueryRowContext(ctx, `SELECT value FROM kv_records WHERE namespace = ?`, s.namespace).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	var actions []models.Action
	if err := json.Unmarshal(raw, &actions); err != nil {
		if qerr := quarantine(ctx, tx, s.namespace, raw, err.Error()); qerr != nil {
			return nil, qerr
		}
		s.logger.Error("queue record unreadable, quarantined and reset", "namespace", s.namespace, "bytes", len(raw), "err", err)
		return nil, nil
	}
	return actions, nil
}

func quarantine(ctx context.Context, tx *sql.Tx, namespace string, raw []byte, reason string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO quarantine (id, namespace, value, reason, quarantined_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), namespace, raw, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to quarantine corrupt record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_records WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("failed to clear corrupt record: %w", err)
	}
	return nil
}

// QuarantinedRecord is a record that could not be parsed and was set aside.
type QuarantinedRecord struct {
	ID            string
	Namespace     string
	Value         []byte
	Reason        string
	QuarantinedAt time.Time
}

// ListQuarantine returns quarantined records for a namespace, newest first.
func ListQuarantine(db *sql.DB, namespace string) ([]QuarantinedRecord, error) {
	rows, err := db.Query(`
		SELECT id, namespace, value, reason, quarantined_at
		FROM quarantine
		WHERE namespace = ?
		ORDER BY quarantined_at DESC
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to query quarantine: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []QuarantinedRecord
	for rows.Next() {
		var r QuarantinedRecord
		if err := rows.Scan(&r.ID, &r.Namespace, &r.Value, &r.Reason, &r.QuarantinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quarantine: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quarantine: %w", err)
	}
	return records, nil
}
