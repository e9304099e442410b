// ABOUTME: Charm KV sink storing each action record under actions/<id>
// ABOUTME: Writes are idempotent by key and pushed to the charm server with Sync
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harperreed/fieldsync/models"
)

const (
	// KeyPrefix namespaces action records in the KV store.
	KeyPrefix = "actions/"
	// PendingKeyPrefix namespaces pending cache writes in the KV store.
	PendingKeyPrefix = "pending/"
)

// KV is the part of the charm client the sink writes through.
type KV interface {
	Set(key, value []byte) error
	Sync() error
}

// Charm writes records into a Charm KV database.
type Charm struct {
	kv  KV
	who Attribution
	now func() time.Time
}

// NewCharm creates a sink over kv.
func NewCharm(kv KV, who Attribution) *Charm {
	return &Charm{kv: kv, who: who, now: time.Now}
}

// Key returns the KV key for an action id.
func Key(id string) []byte {
	return []byte(KeyPrefix + id)
}

// PendingKey returns the KV key for a pending entry id.
func PendingKey(id string) []byte {
	return []byte(PendingKeyPrefix + id)
}

// Submit stores the record and syncs. Resubmitting overwrites the same key.
// Charm has no server to assign synced_at, so the record carries the local time.
func (c *Charm) Submit(ctx context.Context, a models.Action) error {
	rec := NewRecord(a, c.who)
	now := c.now().UTC()
	rec.SyncedAt = &now
	return c.write(ctx, Key(a.ID), rec)
}

// SubmitPending stores a pending cache write under pending/<id> and syncs.
func (c *Charm) SubmitPending(ctx context.Context, e models.PendingSyncEntry) error {
	rec := NewPendingRecord(e, c.who)
	now := c.now().UTC()
	rec.SyncedAt = &now
	return c.write(ctx, PendingKey(e.ID.String()), rec)
}

// write runs Set and Sync off the caller's goroutine. The charm client takes no
// context, so a hung sync is abandoned when ctx ends and finishes on its own.
func (c *Charm) write(ctx context.Context, key []byte, record any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		if err := c.kv.Set(key, data); err != nil {
			done <- fmt.Errorf("failed to write record: %w", err)
			return
		}
		if err := c.kv.Sync(); err != nil {
			done <- fmt.Errorf("failed to sync record: %w", err)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
