// ABOUTME: Offline service composing device identity, queue, geolocation, cache and sync
// ABOUTME: The single entry point feature code uses to capture and deliver field actions
package offline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/fieldsync/cache"
	"github.com/harperreed/fieldsync/geo"
	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/netmon"
	"github.com/harperreed/fieldsync/queue"
	"github.com/harperreed/fieldsync/syncer"
)

// Service captures actions locally and delivers them when connectivity allows.
type Service struct {
	deviceID     string
	queue        *queue.Queue
	coord        *syncer.Coordinator
	locator      *geo.Locator
	monitor      *netmon.Monitor
	cache        *cache.Cache
	submitter    cache.Submitter
	highAccuracy bool
	now          func() time.Time
	logger       *log.Logger
	bg           sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithLocator GPS-tags captured actions.
func WithLocator(l *geo.Locator) Option {
	return func(s *Service) { s.locator = l }
}

// WithMonitor drains the queue whenever the monitor reports a reconnect.
func WithMonitor(m *netmon.Monitor) Option {
	return func(s *Service) { s.monitor = m }
}

func WithCache(c *cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithPendingSubmitter delivers pending cache writes on reconnect and FlushPending.
func WithPendingSubmitter(fn cache.Submitter) Option {
	return func(s *Service) { s.submitter = fn }
}

// WithHighAccuracy requests a fresh fix for every action instead of reusing a recent one.
func WithHighAccuracy() Option {
	return func(s *Service) { s.highAccuracy = true }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l.WithPrefix("offline") }
}

// New wires a service. The coordinator should share the monitor's Online signal.
func New(deviceID string, q *queue.Queue, coord *syncer.Coordinator, opts ...Option) *Service {
	s := &Service{
		deviceID: deviceID,
		queue:    q,
		coord:    coord,
		now:      time.Now,
		logger:   log.Default().WithPrefix("offline"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.monitor != nil {
		s.monitor.OnReconnect(func() {
			s.logger.Info("reconnected, draining queue")
			s.coord.Trigger(context.Background())
			s.flushInBackground()
		})
	}
	return s
}

// DeviceID returns the identity actions are attributed to.
func (s *Service) DeviceID() string {
	return s.deviceID
}

// AddAction validates, GPS-tags and queues an action, then syncs it if online.
func (s *Service) AddAction(ctx context.Context, p models.Payload, entityRef string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: payload is nil", models.ErrInvalidPayload)
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	var position *models.Geo
	if s.locator != nil {
		opts := geo.AnnotateOptions()
		if s.highAccuracy {
			opts = geo.HighAccuracyOptions()
		}
		res := s.locator.Locate(ctx, opts)
		if res.OK() {
			position = res.Geo()
		} else {
			s.logger.Debug("capturing action without location", "reason", res.Reason)
		}
	}

	action, err := models.NewAction(s.deviceID, entityRef, p, position, s.now())
	if err != nil {
		return "", err
	}
	id, err := s.queue.Enqueue(ctx, action)
	if err != nil {
		return "", fmt.Errorf("failed to queue action: %w", err)
	}

	s.coord.Publish(ctx)
	s.coord.Trigger(ctx)
	return id, nil
}

// SyncQueue drains the queue now.
func (s *Service) SyncQueue(ctx context.Context) (models.DrainResult, error) {
	return s.coord.Drain(ctx)
}

// RetryFailed requeues failed actions and syncs them if online.
func (s *Service) RetryFailed(ctx context.Context) (int, error) {
	return s.coord.RetryFailed(ctx)
}

// ClearSynced drops every synced action immediately.
func (s *Service) ClearSynced(ctx context.Context) (int, error) {
	return s.coord.ClearSynced(ctx)
}

// Discard removes an action regardless of status.
func (s *Service) Discard(ctx context.Context, id string) error {
	if err := s.queue.Discard(ctx, id); err != nil {
		return err
	}
	s.coord.Publish(ctx)
	return nil
}

// List returns the queue in insertion order.
func (s *Service) List(ctx context.Context) ([]models.Action, error) {
	return s.queue.List(ctx)
}

// State returns counts and flags for status views.
func (s *Service) State(ctx context.Context) (syncer.State, error) {
	return s.coord.Snapshot(ctx)
}

// Subscribe registers fn for state updates.
func (s *Service) Subscribe(fn func(syncer.State)) func() {
	return s.coord.Subscribe(fn)
}

// Cache returns the reference data cache, or nil when none is configured.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// Pending returns the pending sync entry store, or nil when no cache is configured.
func (s *Service) Pending() *cache.PendingStore {
	if s.cache == nil {
		return nil
	}
	return s.cache.Pending()
}

// FlushPending delivers pending cache writes when online and authenticated.
// Without a cache or a submitter it does nothing.
func (s *Service) FlushPending(ctx context.Context) (cache.FlushResult, error) {
	if s.cache == nil || s.submitter == nil {
		return cache.FlushResult{}, nil
	}
	if !s.coord.Online() {
		return cache.FlushResult{}, nil
	}
	if !s.coord.Authenticated() {
		return cache.FlushResult{}, syncer.ErrNoSession
	}
	res, err := s.cache.Pending().Flush(ctx, s.submitter)
	if res.Attempted > 0 {
		s.logger.Info("flushed pending cache writes", "delivered", res.Delivered, "failed", res.Failed)
	}
	if res.Exhausted > 0 {
		s.logger.Warn("pending writes exhausted their retries", "count", res.Exhausted)
	}
	return res, err
}

func (s *Service) flushInBackground() {
	if s.cache == nil || s.submitter == nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if _, err := s.FlushPending(context.Background()); err != nil {
			s.logger.Debug("pending flush finished with errors", "err", err)
		}
	}()
}

// Close waits for background drains and flushes, then purges synced actions.
func (s *Service) Close() {
	s.coord.Close()
	s.bg.Wait()
}
