// ABOUTME: Network state monitor tracking online/offline transitions
// ABOUTME: Fires reconnect callbacks exactly on offline to online edges
package netmon

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultInterval is how often Run probes connectivity.
const DefaultInterval = 15 * time.Second

// Prober checks whether the remote side is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProber sends a HEAD request to a health URL.
type HTTPProber struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// Probe treats any response below 500 as reachable.
func (p HTTPProber) Probe(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	return nil
}

// Monitor holds the current connectivity state.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	reconnect []func()
	change    []func(bool)
	prober    Prober
	interval  time.Duration
	logger    *log.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the probe interval used by Run.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithInitialState sets the state before the first probe. The default is offline.
func WithInitialState(online bool) Option {
	return func(m *Monitor) { m.online = online }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Monitor) { m.logger = l.WithPrefix("netmon") }
}

// New creates a monitor. prober may be nil when state is only driven through Set.
func New(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		interval: DefaultInterval,
		logger:   log.Default().WithPrefix("netmon"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online reports the last known state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnReconnect registers fn to run on every offline to online transition.
// Transitions are not debounced; a flapping link fires fn on every edge.
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnect = append(m.reconnect, fn)
}

// OnChange registers fn to run on every state change.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.change = append(m.change, fn)
}

// Set records the new state and runs callbacks outside the lock.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	change := append([]func(bool){}, m.change...)
	var reconnect []func()
	if online {
		reconnect = append(reconnect, m.reconnect...)
	}
	m.mu.Unlock()

	if online {
		m.logger.Info("network online")
	} else {
		m.logger.Warn("network offline")
	}
	for _, fn := range change {
		fn(online)
	}
	for _, fn := range reconnect {
		fn()
	}
}

// Check probes once and updates the state.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.Online()
	}
	err := m.prober.Probe(ctx)
	if err != nil && ctx.Err() == nil {
		m.logger.Debug("probe failed", "err", err)
	}
	if ctx.Err() != nil {
		return m.Online()
	}
	m.Set(err == nil)
	return err == nil
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if m.prober == nil {
		return fmt.Errorf("netmon: no prober configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
