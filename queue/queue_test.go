// ABOUTME: Tests for the offline action queue
// ABOUTME: Verifies ordering, status transitions, retry reset and synced purging
package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/fieldsync/models"
)

func newAction(t *testing.T, entity string, rating int) models.Action {
	t.Helper()
	a, err := models.NewAction("dev-1", entity, models.ConditionUpdatePayload{Rating: rating}, nil, time.Now())
	require.NoError(t, err)
	return a
}

func TestEnqueuePreservesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	q := New(NewMemoryStore(), nil)

	var ids []string
	for i := 1; i <= 3; i++ {
		id, err := q.Enqueue(ctx, newAction(t, "AST-001", i))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	actions, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	for i, a := range actions {
		assert.Equal(t, ids[i], a.ID)
		assert.Equal(t, models.StatusPending, a.Status)
	}
}

func TestEnqueueRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	q := New(NewMemoryStore(), nil)

	a := newAction(t, "", 2)
	_, err := q.Enqueue(ctx, a)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, a)
	assert.True(t, errors.Is(err, ErrDuplicateID))
}

func TestEnqueueForcesPendingStatus(t *testing.T) {
	ctx := context.Background()
	q := New(NewMemoryStore(), nil)

	a := newAction(t, "", 2)
	a.Status = models.StatusSynced
	a.Error = "stale"
	id, err := q.Enqueue(ctx, a)
	require.NoError(t, err)

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Empty(t, got.Error)
}

func TestUpdateStatusDoesNotReorder(t *testing.T) {
	ctx := context.Background()
	q := New(NewMemoryStore(), nil)

	first, _ := q.Enqueue(ctx, newAction(t, "", 1))
	second, _ := q.Enqueue(ctx, newAction(t, "", 2))
	third, _ := q.Enqueue(ctx, newAction(t, "", 3))

	require.NoError(t, q.UpdateStatus(ctx, second, models.StatusSyncing, ""))
	require.NoError(t, q.UpdateStatus(ctx, second, models.StatusFailed, "network"))

	actions, err := q.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{first, second, third}, []string{actions[0].ID, actions[1].ID, actions[2].ID})
	assert.Equal(t, models.StatusFailed, actions[1].Status)
	assert.Equal(t, "network", actions[1].Error)
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	ctx := context.Background()
	q := New(NewMemoryStore(), nil)
	id, _ := q.Enqueue(ctx, newAction(t, "", 1))

	err := q.UpdateStatus(ctx, id, models.StatusSynced, "")
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))

	err = q.UpdateStatus(ctx, "missing", models.StatusSyncing, "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRemoveOnlySynced(t *testing.T) {
	ctx := context.Background()
	q := New(NewMemoryStore(), nil)
	id, _ := q.Enqueue(ctx, newAction(t, "", 1))

	require.Error(t, q.Remove(ctx, id), "pending actions are not auto-removable")

	require.NoError(t, q.UpdateStatus(ctx, id, models.StatusSyncing, ""))
	require.NoError(t, q.UpdateStatus(ctx, id, models.StatusSynced, ""))
	require.NoError(t, q.Remove(ctx, id))

	_, err := q.Get(ctx, id)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDiscardRemovesAnyStatus(t *testing.T) {
	ctx := context.Background()
	q := New(NewMemoryStore(), nil)
	id, _ := q.Enqueue(ctx, newAction(t, "", 1))

	require.NoError(t, q.Discard(ctx, id))
	c, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Total)
}

func TestResetFailed(t *testing.T) {
	ctx := context.Background()
	q := New(NewMemoryStore(), nil)

	ok, _ := q.Enqueue(ctx, newAction(t, "", 1))
	bad, _ := q.Enqueue(ctx, newAction(t, "", 2))
	conflict, _ := q.Enqueue(ctx, newAction(t, "", 3))

	for _, id := range []string{ok, bad, conflict} {
		require.NoError(t, q.UpdateStatus(ctx, id, models.StatusSyncing, ""))
	}
	require.NoError(t, q.UpdateStatus(ctx, ok, models.StatusSynced, ""))
	require.NoError(t, q.UpdateStatus(ctx, bad, models.StatusFailed, "500"))
	require.NoError(t, q.UpdateStatus(ctx, conflict, models.StatusConflict, ""))

	n, err := q.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Total: 3, Pending: 2, Synced: 1}, c)
}

func TestClearSynced(t *testing.T) {
	ctx := context.Background()
	q := New(NewMemoryStore(), nil)

	done, _ := q.Enqueue(ctx, newAction(t, "", 1))
	waiting, _ := q.Enqueue(ctx, newAction(t, "", 2))
	require.NoError(t, q.UpdateStatus(ctx, done, models.StatusSyncing, ""))
	require.NoError(t, q.UpdateStatus(ctx, done, models.StatusSynced, ""))

	n, err := q.ClearSynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	actions, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, waiting, actions[0].ID)
}

func TestEligibleIncludesPendingAndFailed(t *testing.T) {
	ctx := context.Background()
	q := New(NewMemoryStore(), nil)

	a, _ := q.Enqueue(ctx, newAction(t, "", 1))
	b, _ := q.Enqueue(ctx, newAction(t, "", 2))
	c, _ := q.Enqueue(ctx, newAction(t, "", 3))
	require.NoError(t, q.UpdateStatus(ctx, a, models.StatusSyncing, ""))
	require.NoError(t, q.UpdateStatus(ctx, a, models.StatusFailed, "x"))
	require.NoError(t, q.UpdateStatus(ctx, b, models.StatusSyncing, ""))
	require.NoError(t, q.UpdateStatus(ctx, b, models.StatusSynced, ""))

	eligible, err := q.Eligible(ctx)
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	assert.Equal(t, a, eligible[0].ID)
	assert.Equal(t, c, eligible[1].ID)
}

func TestOpenRecoversInterruptedDrain(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	q := New(store, nil)

	id, _ := q.Enqueue(ctx, newAction(t, "", 1))
	require.NoError(t, q.UpdateStatus(ctx, id, models.StatusSyncing, ""))

	reopened, err := Open(ctx, store, nil)
	require.NoError(t, err)

	got, err := reopened.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestOpenDropsSyncedLeftovers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	q := New(store, nil)

	done, _ := q.Enqueue(ctx, newAction(t, "", 1))
	require.NoError(t, q.UpdateStatus(ctx, done, models.StatusSyncing, ""))
	require.NoError(t, q.UpdateStatus(ctx, done, models.StatusSynced, ""))
	waiting, _ := q.Enqueue(ctx, newAction(t, "", 2))

	reopened, err := Open(ctx, store, nil)
	require.NoError(t, err)

	actions, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, waiting, actions[0].ID)
	assert.Equal(t, models.StatusPending, actions[0].Status)
}

func TestFailedUpdateLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	q := New(store, nil)
	id, _ := q.Enqueue(ctx, newAction(t, "", 1))

	err := store.Update(ctx, func(actions []models.Action) ([]models.Action, error) {
		actions[0].Status = models.StatusSynced
		return nil, errors.New("abort")
	})
	require.Error(t, err)

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}
