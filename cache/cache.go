// ABOUTME: Partitioned TTL cache for offline reads of reference data
// ABOUTME: Badger holds the durable copy, ttlcache keeps recently read entries in memory
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/badger/v3"
	"github.com/jellydator/ttlcache/v3"

	"github.com/harperreed/fieldsync/models"
)

var (
	// ErrUnknownPartition is returned for a partition that was never configured.
	ErrUnknownPartition = errors.New("unknown cache partition")
	// ErrLocked is returned by Open when another process holds the cache directory.
	ErrLocked = errors.New("cache directory is in use by another process")
)

// backstopSlack is added to badger's physical TTL so the sweep normally removes entries first.
const backstopSlack = time.Minute

// hotCapacity bounds the in-memory tier.
const hotCapacity = 1024

// Partition is a named namespace with its own expiry.
type Partition struct {
	Name string
	TTL  time.Duration
}

// DefaultPartitions are the partitions the field app reads while offline.
var DefaultPartitions = []Partition{
	{Name: "assets", TTL: 5 * time.Minute},
	{Name: "active_visitors", TTL: 2 * time.Minute},
	{Name: "worker_verification", TTL: 15 * time.Minute},
	{Name: "reference_data", TTL: 24 * time.Hour},
}

// Cache is safe for concurrent use.
type Cache struct {
	db         *badger.DB
	owned      bool
	hot        *ttlcache.Cache[string, models.CacheEntry]
	partitions map[string]Partition
	now        func() time.Time
	logger     *log.Logger
	pending    *PendingStore
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) { c.logger = l.WithPrefix("cache") }
}

// WithPartitions replaces the default partition set.
func WithPartitions(ps ...Partition) Option {
	return func(c *Cache) {
		c.partitions = make(map[string]Partition, len(ps))
		for _, p := range ps {
			c.partitions[p.Name] = p
		}
	}
}

// Open opens a badger database at dir and wraps it. An empty dir keeps everything in memory.
func Open(dir string, opts ...Option) (*Cache, error) {
	bopts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		if isLockError(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
		}
		return nil, fmt.Errorf("failed to open cache db: %w", err)
	}
	c := New(db, opts...)
	c.owned = true
	return c, nil
}

// isLockError reports whether badger refused dir because its flock is held.
func isLockError(err error) bool {
	return errors.Is(err, syscall.EWOULDBLOCK) ||
		strings.Contains(err.Error(), "Another process is using this Badger database")
}

// New wraps an already open badger database. The caller keeps ownership of db.
func New(db *badger.DB, opts ...Option) *Cache {
	c := &Cache{
		db:     db,
		now:    time.Now,
		logger: log.Default().WithPrefix("cache"),
		hot: ttlcache.New(
			ttlcache.WithCapacity[string, models.CacheEntry](hotCapacity),
			ttlcache.WithDisableTouchOnHit[string, models.CacheEntry](),
		),
	}
	WithPartitions(DefaultPartitions...)(c)
	for _, opt := range opts {
		opt(c)
	}
	c.pending = NewPendingStore(db, c.now)
	return c
}

// DB exposes the underlying badger handle so the pending store can share it.
func (c *Cache) DB() *badger.DB {
	return c.db
}

// Close releases the database if Open created it.
func (c *Cache) Close() error {
	c.hot.DeleteAll()
	if c.owned {
		return c.db.Close()
	}
	return nil
}

// Partitions returns the configured partitions sorted by name.
func (c *Cache) Partitions() []Partition {
	out := make([]Partition, 0, len(c.partitions))
	for _, p := range c.partitions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Cache) partition(name string) (Partition, error) {
	p, ok := c.partitions[name]
	if !ok {
		return Partition{}, fmt.Errorf("%w: %q", ErrUnknownPartition, name)
	}
	return p, nil
}

// Set stores value under partition/key, replacing any previous entry wholesale.
func (c *Cache) Set(partition, key string, value any) error {
	p, err := c.partition(partition)
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	now := c.now()
	entry := models.CacheEntry{
		ID:        key,
		Data:      data,
		Timestamp: now,
		ExpiresAt: now.Add(p.TTL),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	ek := entryKey(partition, key)
	err = c.db.Update(func(txn *badger.Txn) error {
		prev, found, err := readEntry(txn, ek)
		var corrupt *corruptEntryError
		if err != nil && !errors.As(err, &corrupt) {
			return err
		}
		if found {
			if err := txn.Delete(expiryKey(prev.ExpiresAt, partition, key)); err != nil {
				return err
			}
		}

		backstop := p.TTL + backstopSlack
		if err := txn.SetEntry(badger.NewEntry(ek, raw).WithTTL(backstop)); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(expiryKey(entry.ExpiresAt, partition, key), nil).WithTTL(backstop))
	})
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	c.hot.Set(hotKey(partition, key), entry, p.TTL)
	return nil
}

// Entry returns the raw cache entry. Expired entries are reported as misses.
func (c *Cache) Entry(partition, key string) (models.CacheEntry, bool, error) {
	if _, err := c.partition(partition); err != nil {
		return models.CacheEntry{}, false, err
	}
	now := c.now()
	hk := hotKey(partition, key)

	if item := c.hot.Get(hk); item != nil {
		entry := item.Value()
		if !entry.Expired(now) {
			return entry, true, nil
		}
		c.hot.Delete(hk)
		return models.CacheEntry{}, false, nil
	}

	var entry models.CacheEntry
	var found bool
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		entry, found, err = readEntry(txn, entryKey(partition, key))
		return err
	})
	if err != nil {
		var corrupt *corruptEntryError
		if errors.As(err, &corrupt) {
			c.logger.Error("dropping unreadable cache entry", "partition", partition, "key", key, "err", err)
			_ = c.Delete(partition, key)
			return models.CacheEntry{}, false, nil
		}
		return models.CacheEntry{}, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if !found || entry.Expired(now) {
		return models.CacheEntry{}, false, nil
	}

	c.hot.Set(hk, entry, entry.ExpiresAt.Sub(now))
	return entry, true, nil
}

// Get decodes the cached value into dst and reports whether it was a hit.
func (c *Cache) Get(partition, key string, dst any) (bool, error) {
	entry, ok, err := c.Entry(partition, key)
	if err != nil || !ok {
		return false, err
	}
	if dst != nil {
		if err := json.Unmarshal(entry.Data, dst); err != nil {
			return false, fmt.Errorf("failed to decode cached value: %w", err)
		}
	}
	return true, nil
}

// Delete removes a single entry and its index key.
func (c *Cache) Delete(partition, key string) error {
	c.hot.Delete(hotKey(partition, key))
	ek := entryKey(partition, key)
	return c.db.Update(func(txn *badger.Txn) error {
		prev, found, err := readEntry(txn, ek)
		var corrupt *corruptEntryError
		if err != nil && !errors.As(err, &corrupt) {
			return err
		}
		if found {
			if err := txn.Delete(expiryKey(prev.ExpiresAt, partition, key)); err != nil {
				return err
			}
		}
		return txn.Delete(ek)
	})
}

// ClearPartition removes every entry in partition and returns how many were removed.
func (c *Cache) ClearPartition(partition string) (int, error) {
	if _, err := c.partition(partition); err != nil {
		return 0, err
	}

	var keys []string
	prefix := partitionPrefix(partition)
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list partition: %w", err)
	}

	for _, k := range keys {
		if err := c.Delete(partition, k); err != nil {
			return 0, fmt.Errorf("failed to delete %s/%s: %w", partition, k, err)
		}
	}
	return len(keys), nil
}

// SweepExpired walks the expiry index in order and removes every entry with expiresAt <= now.
func (c *Cache) SweepExpired() (int, error) {
	now := c.now()

	type victim struct {
		index     []byte
		partition string
		key       string
	}
	var victims []victim

	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = expiryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			expiresAt, partition, key, err := parseExpiryKey(k)
			if err != nil {
				c.logger.Warn("skipping malformed index key", "err", err)
				continue
			}
			if expiresAt.After(now) {
				break
			}
			victims = append(victims, victim{index: k, partition: partition, key: key})
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan expiry index: %w", err)
	}

	removed := 0
	for _, v := range victims {
		err := c.db.Update(func(txn *badger.Txn) error {
			if err := txn.Delete(v.index); err != nil {
				return err
			}
			return txn.Delete(entryKey(v.partition, v.key))
		})
		if err != nil {
			return removed, fmt.Errorf("failed to sweep %s/%s: %w", v.partition, v.key, err)
		}
		c.hot.Delete(hotKey(v.partition, v.key))
		removed++
	}

	if removed > 0 {
		c.logger.Debug("swept expired entries", "count", removed)
	}
	return removed, nil
}

// HasAnyCachedData reports whether at least one unexpired entry exists.
func (c *Cache) HasAnyCachedData() (bool, error) {
	now := c.now()
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = expiryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			expiresAt, _, _, err := parseExpiryKey(it.Item().Key())
			if err == nil && expiresAt.After(now) {
				found = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to probe cache: %w", err)
	}
	return found, nil
}

type corruptEntryError struct {
	key string
	err error
}

func (e *corruptEntryError) Error() string {
	return fmt.Sprintf("corrupt cache entry %s: %v", e.key, e.err)
}

func (e *corruptEntryError) Unwrap() error { return e.err }

func readEntry(txn *badger.Txn, key []byte) (models.CacheEntry, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, err
	}

	var entry models.CacheEntry
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return models.CacheEntry{}, false, &corruptEntryError{key: string(key), err: err}
	}
	return entry, true, nil
}
