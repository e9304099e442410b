// ABOUTME: Store for pending sync entries owned by the cache-side offline module
// ABOUTME: Entries are keyed by ULID so iteration order matches insertion order
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"

	"github.com/harperreed/fieldsync/models"
)

// MaxRetries is the retry count after which an entry is reported as exhausted.
const MaxRetries = 5

// ErrPendingNotFound is returned when no pending entry has the requested id.
var ErrPendingNotFound = errors.New("pending entry not found")

// PendingStore keeps PendingSyncEntry values in the cache database.
// Its mu serializes read/modify/write of entries; flushing guards Flush.
type PendingStore struct {
	db       *badger.DB
	now      func() time.Time
	mu       sync.Mutex
	flushing atomic.Bool
}

// NewPendingStore wraps db. A nil now defaults to time.Now.
func NewPendingStore(db *badger.DB, now func() time.Time) *PendingStore {
	if now == nil {
		now = time.Now
	}
	return &PendingStore{db: db, now: now}
}

// Pending returns the pending store sharing the cache's database and clock.
// Every call returns the same store.
func (c *Cache) Pending() *PendingStore {
	return c.pending
}

type storedPending struct {
	key   []byte
	entry models.PendingSyncEntry
}

// Add queues a new entry and returns it.
func (s *PendingStore) Add(entryType string, data any) (models.PendingSyncEntry, error) {
	if entryType == "" {
		return models.PendingSyncEntry{}, fmt.Errorf("pending entry type is required")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return models.PendingSyncEntry{}, fmt.Errorf("failed to marshal pending data: %w", err)
	}

	now := s.now()
	entry := models.PendingSyncEntry{
		ID:        uuid.New(),
		Type:      entryType,
		Data:      raw,
		CreatedAt: now,
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return models.PendingSyncEntry{}, fmt.Errorf("failed to marshal pending entry: %w", err)
	}

	key := append(append([]byte{}, pendingPrefix...), ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()...)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
	if err != nil {
		return models.PendingSyncEntry{}, fmt.Errorf("failed to store pending entry: %w", err)
	}
	return entry, nil
}

// List returns every pending entry in insertion order.
func (s *PendingStore) List() ([]models.PendingSyncEntry, error) {
	stored, err := s.scan()
	if err != nil {
		return nil, err
	}
	out := make([]models.PendingSyncEntry, 0, len(stored))
	for _, sp := range stored {
		out = append(out, sp.entry)
	}
	return out, nil
}

// Exhausted returns entries whose retry count has reached MaxRetries. They are kept until removed.
func (s *PendingStore) Exhausted() ([]models.PendingSyncEntry, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []models.PendingSyncEntry
	for _, e := range all {
		if e.RetryCount >= MaxRetries {
			out = append(out, e)
		}
	}
	return out, nil
}

// Count returns the number of pending entries.
func (s *PendingStore) Count() (int, error) {
	stored, err := s.scan()
	return len(stored), err
}

// Remove deletes the entry with id.
func (s *PendingStore) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		sp, err := findIn(txn, id)
		if err != nil {
			return err
		}
		return txn.Delete(sp.key)
	})
}

// IncrementRetry bumps the retry counter of id and returns the new value.
// The lookup and the write share one transaction.
func (s *PendingStore) IncrementRetry(id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.Update(func(txn *badger.Txn) error {
		sp, err := findIn(txn, id)
		if err != nil {
			return err
		}
		sp.entry.RetryCount++
		val, err := json.Marshal(sp.entry)
		if err != nil {
			return fmt.Errorf("failed to marshal pending entry: %w", err)
		}
		count = sp.entry.RetryCount
		return txn.Set(sp.key, val)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Submitter delivers one pending entry to the remote store.
type Submitter func(ctx context.Context, e models.PendingSyncEntry) error

// FlushResult summarizes one Flush pass.
type FlushResult struct {
	Attempted int
	Delivered int
	Failed    int
	// Exhausted entries were skipped because they reached MaxRetries.
	Exhausted int
	// Busy is set when another flush was already running.
	Busy bool
}

// Flush submits every entry in insertion order. Delivered entries are removed,
// failures bump the retry counter and stay queued. Entries at MaxRetries are
// skipped until removed or retried by hand. The error aggregates per-entry failures.
func (s *PendingStore) Flush(ctx context.Context, submit Submitter) (FlushResult, error) {
	var res FlushResult
	if !s.flushing.CompareAndSwap(false, true) {
		res.Busy = true
		return res, nil
	}
	defer s.flushing.Store(false)

	entries, err := s.List()
	if err != nil {
		return res, err
	}

	var errs *multierror.Error
	for _, e := range entries {
		if ctx.Err() != nil {
			errs = multierror.Append(errs, ctx.Err())
			break
		}
		if e.RetryCount >= MaxRetries {
			res.Exhausted++
			continue
		}
		res.Attempted++
		if err := submit(ctx, e); err != nil {
			res.Failed++
			errs = multierror.Append(errs, fmt.Errorf("pending %s: %w", e.ID, err))
			if _, ierr := s.IncrementRetry(e.ID); ierr != nil && !errors.Is(ierr, ErrPendingNotFound) {
				errs = multierror.Append(errs, ierr)
			}
			continue
		}
		res.Delivered++
		if err := s.Remove(e.ID); err != nil && !errors.Is(err, ErrPendingNotFound) {
			errs = multierror.Append(errs, err)
		}
	}
	return res, errs.ErrorOrNil()
}

func findIn(txn *badger.Txn, id uuid.UUID) (storedPending, error) {
	stored, err := scanIn(txn)
	if err != nil {
		return storedPending{}, err
	}
	for _, sp := range stored {
		if sp.entry.ID == id {
			return sp, nil
		}
	}
	return storedPending{}, fmt.Errorf("%w: %s", ErrPendingNotFound, id)
}

func (s *PendingStore) scan() ([]storedPending, error) {
	var out []storedPending
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = scanIn(txn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entries: %w", err)
	}
	return out, nil
}

func scanIn(txn *badger.Txn) ([]storedPending, error) {
	var out []storedPending
	opts := badger.DefaultIteratorOptions
	opts.Prefix = pendingPrefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var entry models.PendingSyncEntry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return nil, fmt.Errorf("corrupt pending entry %s: %w", item.Key(), err)
		}
		out = append(out, storedPending{key: item.KeyCopy(nil), entry: entry})
	}
	return out, nil
}
