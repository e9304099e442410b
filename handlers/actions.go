// ABOUTME: MCP tool handlers for the offline action queue
// ABOUTME: Lets an assistant capture actions, trigger syncs and inspect queue state
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/offline"
	"github.com/harperreed/fieldsync/syncer"
)

type ActionHandlers struct {
	svc *offline.Service
}

func NewActionHandlers(svc *offline.Service) *ActionHandlers {
	return &ActionHandlers{svc: svc}
}

type AddActionInput struct {
	ActionType string          `json:"action_type" jsonschema:"One of inspection, condition_update, maintenance_log, transfer, scan_log, photo_upload"`
	EntityRef  string          `json:"entity_ref,omitempty" jsonschema:"Asset tag, visitor id or other entity the action applies to"`
	Data       json.RawMessage `json:"data" jsonschema:"Payload object for the action type"`
}

type AddActionOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (h *ActionHandlers) AddAction(ctx context.Context, req *mcp.CallToolRequest, input AddActionInput) (*mcp.CallToolResult, AddActionOutput, error) {
	t, err := models.ParseActionType(input.ActionType)
	if err != nil {
		return nil, AddActionOutput{}, err
	}
	if len(input.Data) == 0 {
		return nil, AddActionOutput{}, fmt.Errorf("data is required")
	}
	p, err := models.DecodePayload(t, input.Data)
	if err != nil {
		return nil, AddActionOutput{}, err
	}

	id, err := h.svc.AddAction(ctx, p, input.EntityRef)
	if err != nil {
		return nil, AddActionOutput{}, fmt.Errorf("failed to add action: %w", err)
	}
	return nil, AddActionOutput{ID: id, Status: string(models.StatusPending)}, nil
}

type SyncQueueInput struct{}

type SyncQueueOutput struct {
	Result  models.DrainResult `json:"result"`
	Summary []string           `json:"summary,omitempty"`
}

// SyncQueue reports per-action failures in the result rather than as a tool error.
func (h *ActionHandlers) SyncQueue(ctx context.Context, req *mcp.CallToolRequest, input SyncQueueInput) (*mcp.CallToolResult, SyncQueueOutput, error) {
	res, err := h.svc.SyncQueue(ctx)
	if err != nil && res.Attempted == 0 {
		return nil, SyncQueueOutput{}, err
	}
	return nil, SyncQueueOutput{Result: res, Summary: syncer.Summary(res)}, nil
}

type RetryFailedInput struct{}

type CountOutput struct {
	Count int `json:"count"`
}

func (h *ActionHandlers) RetryFailed(ctx context.Context, req *mcp.CallToolRequest, input RetryFailedInput) (*mcp.CallToolResult, CountOutput, error) {
	n, err := h.svc.RetryFailed(ctx)
	if err != nil {
		return nil, CountOutput{}, err
	}
	return nil, CountOutput{Count: n}, nil
}

type ClearSyncedInput struct{}

func (h *ActionHandlers) ClearSynced(ctx context.Context, req *mcp.CallToolRequest, input ClearSyncedInput) (*mcp.CallToolResult, CountOutput, error) {
	n, err := h.svc.ClearSynced(ctx)
	if err != nil {
		return nil, CountOutput{}, err
	}
	return nil, CountOutput{Count: n}, nil
}

type QueueStatusInput struct{}

func (h *ActionHandlers) QueueStatus(ctx context.Context, req *mcp.CallToolRequest, input QueueStatusInput) (*mcp.CallToolResult, syncer.State, error) {
	state, err := h.svc.State(ctx)
	if err != nil {
		return nil, syncer.State{}, err
	}
	return nil, state, nil
}

type ListActionsInput struct {
	Status string `json:"status,omitempty" jsonschema:"Only return actions in this sync status"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default 50)"`
}

type ListActionsOutput struct {
	Actions []models.Action `json:"actions"`
	Count   int             `json:"count"`
}

func (h *ActionHandlers) ListActions(ctx context.Context, req *mcp.CallToolRequest, input ListActionsInput) (*mcp.CallToolResult, ListActionsOutput, error) {
	if input.Limit == 0 {
		input.Limit = 50
	}

	actions, err := h.svc.List(ctx)
	if err != nil {
		return nil, ListActionsOutput{}, fmt.Errorf("failed to list actions: %w", err)
	}

	out := []models.Action{}
	for _, a := range actions {
		if input.Status != "" && string(a.Status) != input.Status {
			continue
		}
		out = append(out, a)
		if len(out) == input.Limit {
			break
		}
	}
	return nil, ListActionsOutput{Actions: out, Count: len(out)}, nil
}
