// ABOUTME: Data models for offline field actions, cache entries and pending sync entries
// ABOUTME: Defines the Action lifecycle, status transitions and drain results
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ErrInvalidTransition is returned when a status change violates the action lifecycle.
var ErrInvalidTransition = errors.New("invalid sync status transition")

// ActionType is the closed set of field actions that can be queued.
type ActionType string

const (
	ActionInspection      ActionType = "inspection"
	ActionConditionUpdate ActionType = "condition_update"
	ActionMaintenanceLog  ActionType = "maintenance_log"
	ActionTransfer        ActionType = "transfer"
	ActionScanLog         ActionType = "scan_log"
	ActionPhotoUpload     ActionType = "photo_upload"
)

// ActionTypes lists every valid action type in display order.
var ActionTypes = []ActionType{
	ActionInspection,
	ActionConditionUpdate,
	ActionMaintenanceLog,
	ActionTransfer,
	ActionScanLog,
	ActionPhotoUpload,
}

// ParseActionType validates a raw action type string.
func ParseActionType(s string) (ActionType, error) {
	for _, t := range ActionTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown action type: %q", s)
}

// SyncStatus tracks where an action is in its delivery lifecycle.
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusSyncing  SyncStatus = "syncing"
	StatusSynced   SyncStatus = "synced"
	StatusFailed   SyncStatus = "failed"
	StatusConflict SyncStatus = "conflict"
)

// allowed lists the legal next statuses for each status.
// syncing -> pending only happens when a drain was interrupted by a restart.
var allowed = map[SyncStatus][]SyncStatus{
	StatusPending:  {StatusSyncing},
	StatusSyncing:  {StatusSynced, StatusFailed, StatusConflict, StatusPending},
	StatusFailed:   {StatusPending, StatusSyncing},
	StatusConflict: {StatusPending},
	StatusSynced:   {},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to SyncStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Geo is a best-effort position attached to an action.
type Geo struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
}

// Action is a locally captured mutation awaiting delivery to the remote store.
type Action struct {
	ID         string          `json:"id"`
	DeviceID   string          `json:"device_id"`
	EntityRef  string          `json:"entity_ref,omitempty"`
	Type       ActionType      `json:"action_type"`
	Data       json.RawMessage `json:"action_data"`
	Geo        *Geo            `json:"geo,omitempty"`
	CapturedAt time.Time       `json:"captured_at"`
	Status     SyncStatus      `json:"sync_status"`
	Error      string          `json:"sync_error,omitempty"`
}

// NewActionID returns a time-ordered identifier with a random suffix.
func NewActionID() string {
	return ulid.Make().String()
}

// NewAction builds a pending action from a validated payload.
func NewAction(deviceID, entityRef string, p Payload, geo *Geo, capturedAt time.Time) (Action, error) {
	data, err := EncodePayload(p)
	if err != nil {
		return Action{}, err
	}
	return Action{
		ID:         NewActionID(),
		DeviceID:   deviceID,
		EntityRef:  entityRef,
		Type:       p.ActionType(),
		Data:       data,
		Geo:        geo,
		CapturedAt: capturedAt.UTC(),
		Status:     StatusPending,
	}, nil
}

// Transition moves the action to the next status, recording errMsg only for failures.
func (a *Action) Transition(next SyncStatus, errMsg string) error {
	if !CanTransition(a.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, next)
	}
	a.Status = next
	if next == StatusFailed {
		a.Error = errMsg
	} else {
		a.Error = ""
	}
	return nil
}

// Payload decodes the typed payload carried by the action.
func (a Action) Payload() (Payload, error) {
	return DecodePayload(a.Type, a.Data)
}

// CacheEntry is a cached read-model value with an absolute expiry.
type CacheEntry struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Expired reports whether the entry must be treated as a miss at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// PendingSyncEntry is a queued write owned by the cache-side offline store.
type PendingSyncEntry struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"createdAt"`
	RetryCount int             `json:"retryCount"`
}

// DrainResult summarizes one pass of the sync coordinator.
type DrainResult struct {
	Attempted  int               `json:"attempted"`
	Synced     int               `json:"synced"`
	Failed     int               `json:"failed"`
	Conflicts  int               `json:"conflicts"`
	Errors     map[string]string `json:"errors,omitempty"`
	Skipped    string            `json:"skipped,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Drain skip reasons.
const (
	SkipAlreadySyncing = "already_syncing"
	SkipOffline        = "offline"
	SkipNoSession      = "no_session"
)
