// ABOUTME: Remote record shape written by every sink
// ABOUTME: The full offline action plus server-side attribution fields
package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/syncer"
)

// ErrConflict is reported when the remote store rejects a record as conflicting.
var ErrConflict = syncer.ErrConflict

// Record is what the remote store receives for one action.
type Record struct {
	ID         string          `json:"id"`
	DeviceID   string          `json:"device_id"`
	EntityRef  string          `json:"entity_ref,omitempty"`
	ActionType string          `json:"action_type"`
	ActionData json.RawMessage `json:"action_data"`
	Lat        *float64        `json:"gps_lat,omitempty"`
	Lng        *float64        `json:"gps_lng,omitempty"`
	Accuracy   *float64        `json:"gps_accuracy,omitempty"`
	CapturedAt time.Time       `json:"captured_at"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
	TenantID   string          `json:"tenant_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
}

// Attribution identifies who a record is written on behalf of.
type Attribution struct {
	TenantID string
	UserID   string
	// DeviceID is written on pending records; actions carry their own.
	DeviceID string
}

// NewRecord flattens an action for the remote store. SyncedAt is left for the
// remote side to assign; sinks without a server stamp it themselves.
func NewRecord(a models.Action, who Attribution) Record {
	r := Record{
		ID:         a.ID,
		DeviceID:   a.DeviceID,
		EntityRef:  a.EntityRef,
		ActionType: string(a.Type),
		ActionData: a.Data,
		CapturedAt: a.CapturedAt,
		TenantID:   who.TenantID,
		UserID:     who.UserID,
	}
	if a.Geo != nil {
		lat, lng, acc := a.Geo.Lat, a.Geo.Lng, a.Geo.Accuracy
		r.Lat, r.Lng, r.Accuracy = &lat, &lng, &acc
	}
	return r
}

// PendingRecord is what the remote store receives for one pending cache write.
type PendingRecord struct {
	ID         string          `json:"id"`
	DeviceID   string          `json:"device_id,omitempty"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
	TenantID   string          `json:"tenant_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
}

// NewPendingRecord flattens a pending entry for the remote store.
func NewPendingRecord(e models.PendingSyncEntry, who Attribution) PendingRecord {
	return PendingRecord{
		ID:         e.ID.String(),
		DeviceID:   who.DeviceID,
		Type:       e.Type,
		Data:       e.Data,
		CreatedAt:  e.CreatedAt,
		RetryCount: e.RetryCount,
		TenantID:   who.TenantID,
		UserID:     who.UserID,
	}
}

// Func adapts a function to syncer.Sink.
type Func func(ctx context.Context, a models.Action) error

func (f Func) Submit(ctx context.Context, a models.Action) error { return f(ctx, a) }
