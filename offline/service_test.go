// ABOUTME: End-to-end tests for the offline service
// ABOUTME: Exercises capture while offline, reconnect drains and failure isolation
package offline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/fieldsync/cache"
	"github.com/harperreed/fieldsync/geo"
	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/netmon"
	"github.com/harperreed/fieldsync/queue"
	"github.com/harperreed/fieldsync/sink"
	"github.com/harperreed/fieldsync/syncer"
)

type manualTimers struct {
	mu  sync.Mutex
	fns []func()
}

func (m *manualTimers) AfterFunc(_ time.Duration, fn func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.fns)
	m.fns = append(m.fns, fn)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.fns[idx] == nil {
			return false
		}
		m.fns[idx] = nil
		return true
	}
}

func (m *manualTimers) Elapse() {
	m.mu.Lock()
	fns := m.fns
	m.fns = make([]func(), len(fns))
	m.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}

type harness struct {
	svc     *Service
	monitor *netmon.Monitor
	timers  *manualTimers
	calls   atomic.Int32
}

func newHarness(t *testing.T, submit func(n int32, a models.Action) error, opts ...Option) *harness {
	t.Helper()
	h := &harness{monitor: netmon.New(nil), timers: &manualTimers{}}
	q := queue.New(queue.NewMemoryStore(), nil)
	coord := syncer.New(q, sink.Func(func(ctx context.Context, a models.Action) error {
		return submit(h.calls.Add(1), a)
	}), syncer.WithOnline(h.monitor.Online), syncer.WithClock(nil, h.timers.AfterFunc))

	h.svc = New("dev-1", q, coord, append([]Option{WithMonitor(h.monitor)}, opts...)...)
	t.Cleanup(h.svc.Close)
	return h
}

func TestOfflineCaptureThenReconnectDrain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(n int32, a models.Action) error {
		if n == 2 {
			return errors.New("network")
		}
		return nil
	})

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := h.svc.AddAction(ctx, models.ConditionUpdatePayload{Rating: 3}, "AST-001")
		require.NoError(t, err)
		ids = append(ids, id)

		state, err := h.svc.State(ctx)
		require.NoError(t, err)
		assert.Equal(t, i+1, state.PendingCount)
	}
	assert.Zero(t, h.calls.Load(), "nothing is submitted while offline")

	h.monitor.Set(true)

	require.Eventually(t, func() bool {
		state, err := h.svc.State(ctx)
		return err == nil && !state.IsSyncing && state.FailedCount == 1 && state.PendingCount == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), h.calls.Load())

	h.timers.Elapse()

	actions, err := h.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ids[1], actions[0].ID)
	assert.Equal(t, models.StatusFailed, actions[0].Status)
	assert.Equal(t, "network", actions[0].Error)
}

func TestAddActionWhileOnlineSyncsInBackground(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(int32, models.Action) error { return nil })
	h.monitor.Set(true)

	_, err := h.svc.AddAction(ctx, models.ScanLogPayload{Code: "GATE-7", Method: "qr"}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, err := h.svc.State(ctx)
		return err == nil && state.SyncedCount == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAddActionRejectsInvalidPayload(t *testing.T) {
	h := newHarness(t, func(int32, models.Action) error { return nil })

	_, err := h.svc.AddAction(context.Background(), models.ConditionUpdatePayload{Rating: 9}, "AST-001")
	assert.ErrorIs(t, err, models.ErrInvalidPayload)

	_, err = h.svc.AddAction(context.Background(), nil, "AST-001")
	assert.ErrorIs(t, err, models.ErrInvalidPayload)

	actions, err := h.svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestAddActionTagsLocation(t *testing.T) {
	ctx := context.Background()
	locator := geo.NewLocator(geo.Static{Lat: -1.28, Lng: 36.81, Accuracy: 5}, time.Second)
	h := newHarness(t, func(int32, models.Action) error { return nil }, WithLocator(locator), WithHighAccuracy())

	id, err := h.svc.AddAction(ctx, models.InspectionPayload{TemplateID: "fire-ext"}, "AST-9")
	require.NoError(t, err)

	actions, err := h.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, id, actions[0].ID)
	assert.Equal(t, "dev-1", actions[0].DeviceID)
	require.NotNil(t, actions[0].Geo)
	assert.Equal(t, -1.28, actions[0].Geo.Lat)
}

func TestAddActionWithoutLocationStillQueues(t *testing.T) {
	ctx := context.Background()
	locator := geo.NewLocator(geo.Unavailable{}, time.Second)
	h := newHarness(t, func(int32, models.Action) error { return nil }, WithLocator(locator))

	_, err := h.svc.AddAction(ctx, models.MaintenanceLogPayload{Description: "greased bearings"}, "AST-2")
	require.NoError(t, err)

	actions, err := h.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Nil(t, actions[0].Geo)
}

func TestRetryAndClear(t *testing.T) {
	ctx := context.Background()
	var fail atomic.Bool
	fail.Store(true)
	h := newHarness(t, func(_ int32, a models.Action) error {
		if fail.Load() {
			return errors.New("network")
		}
		return nil
	})
	h.monitor.Set(true)

	_, err := h.svc.AddAction(ctx, models.TransferPayload{FromLocation: "yard", ToLocation: "site-b"}, "AST-3")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		state, err := h.svc.State(ctx)
		return err == nil && state.FailedCount == 1 && !state.IsSyncing
	}, 2*time.Second, 5*time.Millisecond)

	fail.Store(false)
	n, err := h.svc.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Eventually(t, func() bool {
		state, err := h.svc.State(ctx)
		return err == nil && state.SyncedCount == 1 && !state.IsSyncing
	}, 2*time.Second, 5*time.Millisecond)

	cleared, err := h.svc.ClearSynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)
}

func TestCacheAccessors(t *testing.T) {
	h := newHarness(t, func(int32, models.Action) error { return nil })
	assert.Nil(t, h.svc.Cache())
	assert.Nil(t, h.svc.Pending())

	c, err := cache.Open("")
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	h2 := newHarness(t, func(int32, models.Action) error { return nil }, WithCache(c))
	require.NotNil(t, h2.svc.Pending())
	require.NoError(t, h2.svc.Cache().Set("assets", "asset_1", map[string]string{"name": "Pump A"}))

	var got map[string]string
	ok, err := h2.svc.Cache().Get("assets", "asset_1", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Pump A", got["name"])
}

func TestReconnectFlushesPendingWrites(t *testing.T) {
	ctx := context.Background()
	c, err := cache.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	var delivered atomic.Int32
	h := newHarness(t, func(int32, models.Action) error { return nil }, WithCache(c),
		WithPendingSubmitter(func(ctx context.Context, e models.PendingSyncEntry) error {
			delivered.Add(1)
			return nil
		}))

	_, err = c.Pending().Add("visitor_checkin", map[string]string{"visitor": "V-3"})
	require.NoError(t, err)

	res, err := h.svc.FlushPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Attempted, "nothing is sent while offline")

	h.monitor.Set(true)
	require.Eventually(t, func() bool {
		n, err := c.Pending().Count()
		return err == nil && n == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), delivered.Load())
}

func TestFlushPendingWithoutSubmitterIsNoop(t *testing.T) {
	c, err := cache.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	h := newHarness(t, func(int32, models.Action) error { return nil }, WithCache(c))
	h.monitor.Set(true)
	_, err = c.Pending().Add("visitor_checkin", nil)
	require.NoError(t, err)

	res, err := h.svc.FlushPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
}
