// ABOUTME: Persistent, insertion-ordered queue of offline actions
// ABOUTME: Every mutation is a whole-state read/modify/write through a Store adapter
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/harperreed/fieldsync/models"
)

// Namespace is the fixed key under which durable adapters keep the queue record.
const Namespace = "offline_actions_queue"

var (
	ErrNotFound    = errors.New("action not found")
	ErrDuplicateID = errors.New("action id already queued")
)

// Store persists the whole queue as one ordered record.
type Store interface {
	// Load returns the queue in insertion order.
	Load(ctx context.Context) ([]models.Action, error)
	// Update applies fn to the current queue and persists the result atomically.
	Update(ctx context.Context, fn func([]models.Action) ([]models.Action, error)) error
}

// Counts is a status histogram of the queue.
type Counts struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Syncing  int `json:"syncing"`
	Synced   int `json:"synced"`
	Failed   int `json:"failed"`
	Conflict int `json:"conflict"`
}

// Queue owns the lifecycle of offline actions. No other component mutates sync status.
type Queue struct {
	store  Store
	logger *log.Logger
}

// New wraps a store without touching it.
func New(store Store, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.Default()
	}
	return &Queue{store: store, logger: logger.WithPrefix("queue")}
}

// Open rehydrates the queue. Entries left in syncing by an interrupted drain go back
// to pending; synced entries whose purge never ran in an earlier process are dropped.
func Open(ctx context.Context, store Store, logger *log.Logger) (*Queue, error) {
	q := New(store, logger)
	recovered, purged := 0, 0
	err := store.Update(ctx, func(actions []models.Action) ([]models.Action, error) {
		kept := actions[:0]
		for i := range actions {
			switch actions[i].Status {
			case models.StatusSynced:
				purged++
				continue
			case models.StatusSyncing:
				if err := actions[i].Transition(models.StatusPending, ""); err != nil {
					return nil, err
				}
				recovered++
			}
			kept = append(kept, actions[i])
		}
		return kept, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rehydrate queue: %w", err)
	}
	if recovered > 0 {
		q.logger.Warn("recovered interrupted actions", "count", recovered)
	}
	if purged > 0 {
		q.logger.Info("purged synced actions from an earlier run", "count", purged)
	}
	return q, nil
}

// Enqueue appends a pending action and returns its id.
func (q *Queue) Enqueue(ctx context.Context, action models.Action) (string, error) {
	if action.ID == "" {
		action.ID = models.NewActionID()
	}
	action.Status = models.StatusPending
	action.Error = ""

	err := q.store.Update(ctx, func(actions []models.Action) ([]models.Action, error) {
		for _, a := range actions {
			if a.ID == action.ID {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateID, action.ID)
			}
		}
		return append(actions, action), nil
	})
	if err != nil {
		return "", err
	}

	q.logger.Debug("enqueued action", "id", action.ID, "type", action.Type, "entity", action.EntityRef)
	return action.ID, nil
}

// List returns every action in insertion order.
func (q *Queue) List(ctx context.Context) ([]models.Action, error) {
	return q.store.Load(ctx)
}

// Get returns a single action by id.
func (q *Queue) Get(ctx context.Context, id string) (models.Action, error) {
	actions, err := q.store.Load(ctx)
	if err != nil {
		return models.Action{}, err
	}
	for _, a := range actions {
		if a.ID == id {
			return a, nil
		}
	}
	return models.Action{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Eligible returns pending and failed actions in drain order.
func (q *Queue) Eligible(ctx context.Context) ([]models.Action, error) {
	actions, err := q.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Action
	for _, a := range actions {
		if a.Status == models.StatusPending || a.Status == models.StatusFailed {
			out = append(out, a)
		}
	}
	return out, nil
}

// UpdateStatus transitions an action in place without reordering the queue.
func (q *Queue) UpdateStatus(ctx context.Context, id string, status models.SyncStatus, errMsg string) error {
	return q.store.Update(ctx, func(actions []models.Action) ([]models.Action, error) {
		for i := range actions {
			if actions[i].ID != id {
				continue
			}
			if err := actions[i].Transition(status, errMsg); err != nil {
				return nil, fmt.Errorf("action %s: %w", id, err)
			}
			return actions, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	})
}

// Remove deletes a synced action. Pending and failed actions are only removed by Discard.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.store.Update(ctx, func(actions []models.Action) ([]models.Action, error) {
		for i, a := range actions {
			if a.ID != id {
				continue
			}
			if a.Status != models.StatusSynced {
				return nil, fmt.Errorf("action %s is %s, only synced actions are removed", id, a.Status)
			}
			return append(actions[:i], actions[i+1:]...), nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	})
}

// Discard deletes an action regardless of status. This is the explicit user path.
func (q *Queue) Discard(ctx context.Context, id string) error {
	return q.store.Update(ctx, func(actions []models.Action) ([]models.Action, error) {
		for i, a := range actions {
			if a.ID == id {
				return append(actions[:i], actions[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	})
}

// ResetFailed moves every failed or conflicted action back to pending.
func (q *Queue) ResetFailed(ctx context.Context) (int, error) {
	n := 0
	err := q.store.Update(ctx, func(actions []models.Action) ([]models.Action, error) {
		for i := range actions {
			s := actions[i].Status
			if s != models.StatusFailed && s != models.StatusConflict {
				continue
			}
			if err := actions[i].Transition(models.StatusPending, ""); err != nil {
				return nil, err
			}
			n++
		}
		return actions, nil
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Info("reset failed actions for retry", "count", n)
	}
	return n, nil
}

// ClearSynced drops every synced action immediately.
func (q *Queue) ClearSynced(ctx context.Context) (int, error) {
	n := 0
	err := q.store.Update(ctx, func(actions []models.Action) ([]models.Action, error) {
		kept := actions[:0]
		for _, a := range actions {
			if a.Status == models.StatusSynced {
				n++
				continue
			}
			kept = append(kept, a)
		}
		return kept, nil
	})
	return n, err
}

// Counts returns a status histogram.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	actions, err := q.store.Load(ctx)
	if err != nil {
		return Counts{}, err
	}
	return CountActions(actions), nil
}

// CountActions builds a histogram from a snapshot.
func CountActions(actions []models.Action) Counts {
	c := Counts{Total: len(actions)}
	for _, a := range actions {
		switch a.Status {
		case models.StatusPending:
			c.Pending++
		case models.StatusSyncing:
			c.Syncing++
		case models.StatusSynced:
			c.Synced++
		case models.StatusFailed:
			c.Failed++
		case models.StatusConflict:
			c.Conflict++
		}
	}
	return c
}
