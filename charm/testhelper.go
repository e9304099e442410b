// ABOUTME: Test utilities for creating isolated charm clients
// ABOUTME: Backs the client with in-memory BadgerDB so tests need no charm server
package charm

import (
	"sync/atomic"
	"testing"

	"github.com/dgraph-io/badger/v3"
)

// badgerStore provides the kv.KV surface on a local BadgerDB.
type badgerStore struct {
	db    *badger.DB
	syncs atomic.Int32
}

func (b *badgerStore) Get(key []byte) ([]byte, error) {
	var result []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		result, err = item.ValueCopy(nil)
		return err
	})
	return result, err
}

func (b *badgerStore) Set(key, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (b *badgerStore) Delete(key []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (b *badgerStore) Keys() ([][]byte, error) {
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

func (b *badgerStore) Sync() error {
	b.syncs.Add(1)
	return nil
}

// NewTestClient creates a client over in-memory BadgerDB with auto-sync enabled.
// Sync calls are counted and reported through SyncCount.
func NewTestClient(t *testing.T) *Client {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("Failed to open badger: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close test database: %v", err)
		}
	})

	return &Client{store: &badgerStore{db: db}, host: "localhost", autoSync: true}
}

// SyncCount returns how many times a test client synced.
func SyncCount(c *Client) int {
	if b, ok := c.store.(*badgerStore); ok {
		return int(b.syncs.Load())
	}
	return 0
}
