// ABOUTME: Tests for the MCP action and resource handlers
// ABOUTME: Runs handlers against an in-memory queue and a scripted sink
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/fieldsync/cache"
	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/netmon"
	"github.com/harperreed/fieldsync/offline"
	"github.com/harperreed/fieldsync/queue"
	"github.com/harperreed/fieldsync/sink"
	"github.com/harperreed/fieldsync/syncer"
)

// noPurge keeps synced actions in the queue until ClearSynced.
func noPurge(time.Duration, func()) func() bool {
	return func() bool { return true }
}

func setupService(t *testing.T, submit sink.Func, online bool) (*offline.Service, *netmon.Monitor) {
	t.Helper()
	monitor := netmon.New(nil, netmon.WithInitialState(online))
	q := queue.New(queue.NewMemoryStore(), nil)
	coord := syncer.New(q, submit, syncer.WithOnline(monitor.Online), syncer.WithClock(nil, noPurge))

	c, err := cache.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	svc := offline.New("dev-1", q, coord, offline.WithMonitor(monitor), offline.WithCache(c))
	t.Cleanup(svc.Close)
	return svc, monitor
}

func okSink(context.Context, models.Action) error { return nil }

func TestAddActionHandler(t *testing.T) {
	svc, _ := setupService(t, okSink, false)
	h := NewActionHandlers(svc)
	ctx := context.Background()

	_, out, err := h.AddAction(ctx, &mcp.CallToolRequest{}, AddActionInput{
		ActionType: "condition_update",
		EntityRef:  "AST-001",
		Data:       json.RawMessage(`{"rating":4,"notes":"dented"}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, "pending", out.Status)

	actions, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "AST-001", actions[0].EntityRef)
	assert.Equal(t, "dev-1", actions[0].DeviceID)
}

func TestAddActionHandlerRejectsBadInput(t *testing.T) {
	svc, _ := setupService(t, okSink, false)
	h := NewActionHandlers(svc)
	ctx := context.Background()

	tests := []struct {
		name  string
		input AddActionInput
	}{
		{"unknown type", AddActionInput{ActionType: "permit", Data: json.RawMessage(`{}`)}},
		{"missing data", AddActionInput{ActionType: "inspection"}},
		{"invalid payload", AddActionInput{ActionType: "condition_update", Data: json.RawMessage(`{"rating":9}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := h.AddAction(ctx, &mcp.CallToolRequest{}, tt.input)
			assert.Error(t, err)
		})
	}

	actions, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestSyncQueueHandler(t *testing.T) {
	calls := 0
	svc, monitor := setupService(t, func(ctx context.Context, a models.Action) error {
		calls++
		if calls == 2 {
			return errors.New("network")
		}
		return nil
	}, false)
	h := NewActionHandlers(svc)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := h.AddAction(ctx, &mcp.CallToolRequest{}, AddActionInput{
			ActionType: "scan_log",
			Data:       json.RawMessage(fmt.Sprintf(`{"code":"AST-%03d"}`, i+1)),
		})
		require.NoError(t, err)
	}

	_, out, err := h.SyncQueue(ctx, &mcp.CallToolRequest{}, SyncQueueInput{})
	require.NoError(t, err)
	assert.Equal(t, models.SkipOffline, out.Result.Skipped)

	monitor.Set(true)
	require.Eventually(t, func() bool {
		state, err := svc.State(ctx)
		return err == nil && !state.IsSyncing && state.PendingCount == 0
	}, 2*time.Second, 5*time.Millisecond)

	_, status, err := h.QueueStatus(ctx, &mcp.CallToolRequest{}, QueueStatusInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, status.SyncedCount)
	assert.Equal(t, 1, status.FailedCount)
	assert.True(t, status.IsOnline)

	_, listed, err := h.ListActions(ctx, &mcp.CallToolRequest{}, ListActionsInput{Status: "failed"})
	require.NoError(t, err)
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, "network", listed.Actions[0].Error)

	_, cleared, err := h.ClearSynced(ctx, &mcp.CallToolRequest{}, ClearSyncedInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, cleared.Count)

	_, retried, err := h.RetryFailed(ctx, &mcp.CallToolRequest{}, RetryFailedInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, retried.Count)

	require.Eventually(t, func() bool {
		state, err := svc.State(ctx)
		return err == nil && !state.IsSyncing && state.SyncedCount == 1 && state.FailedCount == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestListActionsLimit(t *testing.T) {
	svc, _ := setupService(t, okSink, false)
	h := NewActionHandlers(svc)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := h.AddAction(ctx, &mcp.CallToolRequest{}, AddActionInput{
			ActionType: "maintenance_log",
			Data:       json.RawMessage(`{"description":"oil change"}`),
		})
		require.NoError(t, err)
	}

	_, out, err := h.ListActions(ctx, &mcp.CallToolRequest{}, ListActionsInput{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)

	_, out, err = h.ListActions(ctx, &mcp.CallToolRequest{}, ListActionsInput{})
	require.NoError(t, err)
	assert.Equal(t, 5, out.Count)
}

func TestReadResource(t *testing.T) {
	svc, _ := setupService(t, okSink, false)
	h := NewResourceHandlers(svc)
	ctx := context.Background()

	_, err := svc.AddAction(ctx, models.InspectionPayload{TemplateID: "fire-ext"}, "EXT-9")
	require.NoError(t, err)
	require.NoError(t, svc.Cache().Set("assets", "EXT-9", map[string]string{"name": "extinguisher"}))

	read := func(uri string) (*mcp.ReadResourceResult, error) {
		return h.ReadResource(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: uri}})
	}

	res, err := read(QueueURI)
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	var actions []models.Action
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &actions))
	require.Len(t, actions, 1)
	assert.Equal(t, "EXT-9", actions[0].EntityRef)

	res, err = read(StateURI)
	require.NoError(t, err)
	var state syncer.State
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &state))
	assert.Equal(t, 1, state.PendingCount)

	res, err = read(CacheURI + "/assets/EXT-9")
	require.NoError(t, err)
	assert.Contains(t, res.Contents[0].Text, "extinguisher")

	_, err = read(CacheURI + "/assets/missing")
	assert.Error(t, err)

	_, err = read("crm://contacts")
	assert.Error(t, err)

	_, err = read("fieldsync://nope")
	assert.Error(t, err)
}
