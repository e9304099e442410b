// ABOUTME: Charm KV client wrapper used as a remote action sink
// ABOUTME: Serializes access to the store and syncs with the charm server on demand
package charm

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/charm/client"
	"github.com/charmbracelet/charm/kv"
)

const (
	// DefaultCharmHost is the self-hosted 2389 research server.
	DefaultCharmHost = "charm.2389.dev"

	// AppName is the Charm KV database name.
	AppName = "fieldsync"
)

// store is the subset of kv.KV the client relies on.
type store interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Keys() ([][]byte, error)
	Sync() error
}

// Client wraps charm KV.
type Client struct {
	store    store
	host     string
	autoSync bool
	mu       sync.RWMutex
}

// Open opens the fieldsync KV database against host.
func Open(host string, autoSync bool) (*Client, error) {
	if host == "" {
		host = DefaultCharmHost
	}

	// Set charm host before opening KV
	_ = os.Setenv("CHARM_HOST", host)

	db, err := kv.OpenWithDefaults(AppName)
	if err != nil {
		return nil, fmt.Errorf("failed to open charm kv: %w", err)
	}

	c := &Client{store: db, host: host, autoSync: autoSync}

	// Sync on startup to pull remote changes
	if autoSync {
		_ = db.Sync()
	}
	return c, nil
}

// Host returns the charm server this client talks to.
func (c *Client) Host() string {
	return c.host
}

// ID returns the charm user ID for this device.
func (c *Client) ID() (string, error) {
	cc, err := client.NewClientWithDefaults()
	if err != nil {
		return "", fmt.Errorf("failed to create charm client: %w", err)
	}
	return cc.ID()
}

// Sync performs a manual sync with the charm server.
func (c *Client) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Sync()
}

// Get retrieves a value by key.
func (c *Client) Get(key []byte) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Get(key)
}

// Set stores a value and syncs if enabled.
func (c *Client) Set(key, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Set(key, value); err != nil {
		return err
	}
	if c.autoSync {
		return c.store.Sync()
	}
	return nil
}

// Delete removes a key and syncs if enabled.
func (c *Client) Delete(key []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(key); err != nil {
		return err
	}
	if c.autoSync {
		return c.store.Sync()
	}
	return nil
}

// KeysWithPrefix returns all keys starting with prefix.
func (c *Client) KeysWithPrefix(prefix []byte) ([][]byte, error) {
	c.mu.RLock()
	all, err := c.store.Keys()
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	var matched [][]byte
	for _, k := range all {
		if bytes.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	return matched, nil
}

// Close releases the underlying store.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if closer, ok := c.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
