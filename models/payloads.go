// ABOUTME: Typed payload variants keyed by action type
// ABOUTME: Validates payloads at the boundary before they are queued
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPayload wraps every payload validation failure.
var ErrInvalidPayload = errors.New("invalid action payload")

// Payload is implemented by each action variant.
type Payload interface {
	ActionType() ActionType
	Validate() error
}

type InspectionPayload struct {
	TemplateID string            `json:"template_id"`
	Score      *float64          `json:"score,omitempty"`
	Answers    map[string]string `json:"answers,omitempty"`
	Notes      string            `json:"notes,omitempty"`
}

func (InspectionPayload) ActionType() ActionType { return ActionInspection }

func (p InspectionPayload) Validate() error {
	if p.TemplateID == "" {
		return invalid(ActionInspection, "template_id is required")
	}
	return nil
}

type ConditionUpdatePayload struct {
	Rating int    `json:"rating"`
	Notes  string `json:"notes,omitempty"`
}

func (ConditionUpdatePayload) ActionType() ActionType { return ActionConditionUpdate }

func (p ConditionUpdatePayload) Validate() error {
	if p.Rating < 1 || p.Rating > 5 {
		return invalid(ActionConditionUpdate, "rating must be between 1 and 5")
	}
	return nil
}

type MaintenanceLogPayload struct {
	Description  string  `json:"description"`
	PerformedBy  string  `json:"performed_by,omitempty"`
	DowntimeMins int     `json:"downtime_mins,omitempty"`
	Cost         float64 `json:"cost,omitempty"`
}

func (MaintenanceLogPayload) ActionType() ActionType { return ActionMaintenanceLog }

func (p MaintenanceLogPayload) Validate() error {
	if p.Description == "" {
		return invalid(ActionMaintenanceLog, "description is required")
	}
	if p.DowntimeMins < 0 {
		return invalid(ActionMaintenanceLog, "downtime_mins cannot be negative")
	}
	return nil
}

type TransferPayload struct {
	FromLocation string `json:"from_location"`
	ToLocation   string `json:"to_location"`
	Reason       string `json:"reason,omitempty"`
}

func (TransferPayload) ActionType() ActionType { return ActionTransfer }

func (p TransferPayload) Validate() error {
	if p.ToLocation == "" {
		return invalid(ActionTransfer, "to_location is required")
	}
	if p.FromLocation == p.ToLocation {
		return invalid(ActionTransfer, "from_location and to_location must differ")
	}
	return nil
}

type ScanLogPayload struct {
	Code   string `json:"code"`
	Method string `json:"method,omitempty"` // qr, barcode, nfc, manual
	Gate   string `json:"gate,omitempty"`
}

func (ScanLogPayload) ActionType() ActionType { return ActionScanLog }

func (p ScanLogPayload) Validate() error {
	if p.Code == "" {
		return invalid(ActionScanLog, "code is required")
	}
	switch p.Method {
	case "", "qr", "barcode", "nfc", "manual":
		return nil
	}
	return invalid(ActionScanLog, fmt.Sprintf("unknown scan method %q", p.Method))
}

type PhotoUploadPayload struct {
	LocalPath   string `json:"local_path"`
	ContentType string `json:"content_type,omitempty"`
	Caption     string `json:"caption,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

func (PhotoUploadPayload) ActionType() ActionType { return ActionPhotoUpload }

func (p PhotoUploadPayload) Validate() error {
	if p.LocalPath == "" {
		return invalid(ActionPhotoUpload, "local_path is required")
	}
	return nil
}

func invalid(t ActionType, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidPayload, t, msg)
}

// EncodePayload validates p and marshals it for storage.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: payload is nil", ErrInvalidPayload)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.ActionType(), err)
	}
	return data, nil
}

// NewPayload returns an empty payload value for the given type.
func NewPayload(t ActionType) (Payload, error) {
	switch t {
	case ActionInspection:
		return &InspectionPayload{}, nil
	case ActionConditionUpdate:
		return &ConditionUpdatePayload{}, nil
	case ActionMaintenanceLog:
		return &MaintenanceLogPayload{}, nil
	case ActionTransfer:
		return &TransferPayload{}, nil
	case ActionScanLog:
		return &ScanLogPayload{}, nil
	case ActionPhotoUpload:
		return &PhotoUploadPayload{}, nil
	}
	return nil, fmt.Errorf("unknown action type: %q", t)
}

// DecodePayload restores and validates the typed payload for t.
func DecodePayload(t ActionType, raw json.RawMessage) (Payload, error) {
	p, err := NewPayload(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, t, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
