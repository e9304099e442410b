// ABOUTME: Sync coordinator that drains the offline action queue into a remote sink
// ABOUTME: One drain at a time, insertion order, per-entry failure isolation
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"

	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/queue"
)

const (
	// DefaultGraceDelay keeps synced entries visible briefly before they are purged.
	DefaultGraceDelay = 3 * time.Second
	// DefaultSubmitTimeout bounds a single remote submission.
	DefaultSubmitTimeout = 30 * time.Second
)

var (
	// ErrNoSession is returned when a drain is declined for lack of an authenticated session.
	ErrNoSession = errors.New("no authenticated session")
	// ErrConflict is returned by sinks when the remote side rejects an action as conflicting.
	ErrConflict = errors.New("remote conflict")
)

// Sink delivers one action to the remote store.
type Sink interface {
	Submit(ctx context.Context, action models.Action) error
}

// Session reports whether an identity is available to attribute remote writes to.
type Session interface {
	Authenticated() bool
}

// SessionFunc adapts a function to Session.
type SessionFunc func() bool

func (f SessionFunc) Authenticated() bool { return f() }

// StatusRecorder persists coordinator status outside the queue.
type StatusRecorder interface {
	DrainStarted() error
	DrainFinished(result models.DrainResult) error
}

// AfterFunc schedules f after d and returns a stop function.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// State is the observable summary used by status views.
type State struct {
	PendingCount  int                 `json:"pending_count"`
	SyncingCount  int                 `json:"syncing_count"`
	FailedCount   int                 `json:"failed_count"`
	ConflictCount int                 `json:"conflict_count"`
	SyncedCount   int                 `json:"synced_count"`
	IsOnline      bool                `json:"is_online"`
	IsSyncing     bool                `json:"is_syncing"`
	LastDrain     *models.DrainResult `json:"last_drain,omitempty"`
}

// Coordinator owns every drain of the queue.
type Coordinator struct {
	queue         *queue.Queue
	sink          Sink
	online        func() bool
	session       Session
	notifier      Notifier
	recorder      StatusRecorder
	graceDelay    time.Duration
	submitTimeout time.Duration
	afterFunc     AfterFunc
	now           func() time.Time
	logger        *log.Logger

	syncing atomic.Bool
	bg      sync.WaitGroup

	mu        sync.Mutex
	lastDrain *models.DrainResult
	purges    map[string]func() bool
	subs      map[int]func(State)
	nextSub   int
	closed    bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithGraceDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.graceDelay = d }
}

func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.submitTimeout = d }
}

// WithOnline supplies the connectivity signal. Without it the coordinator assumes online.
func WithOnline(fn func() bool) Option {
	return func(c *Coordinator) { c.online = fn }
}

func WithSession(s Session) Option {
	return func(c *Coordinator) { c.session = s }
}

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

func WithStatusRecorder(r StatusRecorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithClock replaces time.Now and time.AfterFunc.
func WithClock(now func() time.Time, after AfterFunc) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
		if after != nil {
			c.afterFunc = after
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) { c.logger = l.WithPrefix("syncer") }
}

// New creates a coordinator for q delivering into sink.
func New(q *queue.Queue, sink Sink, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:         q,
		sink:          sink,
		online:        func() bool { return true },
		graceDelay:    DefaultGraceDelay,
		submitTimeout: DefaultSubmitTimeout,
		afterFunc:     realAfterFunc,
		now:           time.Now,
		logger:        log.Default().WithPrefix("syncer"),
		purges:        make(map[string]func() bool),
		subs:          make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Online reports the connectivity signal the coordinator drains under.
func (c *Coordinator) Online() bool {
	return c.online()
}

// Authenticated reports whether remote writes can be attributed to a session.
func (c *Coordinator) Authenticated() bool {
	return c.session == nil || c.session.Authenticated()
}

// Syncing reports whether a drain is in progress.
func (c *Coordinator) Syncing() bool {
	return c.syncing.Load()
}

// Drain submits every pending and failed action in insertion order.
// The returned error aggregates per-action failures; the result is always populated.
func (c *Coordinator) Drain(ctx context.Context) (models.DrainResult, error) {
	if !c.syncing.CompareAndSwap(false, true) {
		c.logger.Debug("drain already in progress")
		return c.skipped(models.SkipAlreadySyncing), nil
	}
	defer func() {
		c.syncing.Store(false)
		c.Publish(ctx)
	}()

	if !c.online() {
		return c.skipped(models.SkipOffline), nil
	}
	if c.session != nil && !c.session.Authenticated() {
		c.logger.Warn("declining drain without an authenticated session")
		return c.skipped(models.SkipNoSession), ErrNoSession
	}

	eligible, err := c.queue.Eligible(ctx)
	if err != nil {
		return c.skipped(""), fmt.Errorf("failed to load queue: %w", err)
	}

	result := models.DrainResult{StartedAt: c.now()}
	if len(eligible) == 0 {
		result.FinishedAt = c.now()
		return result, nil
	}

	c.record(func(r StatusRecorder) error { return r.DrainStarted() })
	c.Publish(ctx)

	var errs *multierror.Error
	for _, action := range eligible {
		if ctx.Err() != nil {
			errs = multierror.Append(errs, ctx.Err())
			break
		}
		result.Attempted++
		if err := c.deliver(ctx, action); err != nil {
			if errors.Is(err, ErrConflict) {
				result.Conflicts++
			} else {
				result.Failed++
			}
			if result.Errors == nil {
				result.Errors = make(map[string]string)
			}
			result.Errors[action.ID] = err.Error()
			errs = multierror.Append(errs, fmt.Errorf("action %s: %w", action.ID, err))
		} else {
			result.Synced++
		}
		c.Publish(ctx)
	}
	result.FinishedAt = c.now()

	c.mu.Lock()
	last := result
	c.lastDrain = &last
	c.mu.Unlock()

	c.record(func(r StatusRecorder) error { return r.DrainFinished(result) })
	if c.notifier != nil {
		c.notifier.Notify(result)
	}
	c.logger.Info("drain finished", "attempted", result.Attempted, "synced", result.Synced,
		"failed", result.Failed, "conflicts", result.Conflicts, "took", result.FinishedAt.Sub(result.StartedAt))

	return result, errs.ErrorOrNil()
}

// deliver runs one action through syncing to a terminal or failed status.
func (c *Coordinator) deliver(ctx context.Context, action models.Action) error {
	if err := c.queue.UpdateStatus(ctx, action.ID, models.StatusSyncing, ""); err != nil {
		return err
	}

	submitErr := c.submit(ctx, action)
	switch {
	case submitErr == nil:
		if err := c.queue.UpdateStatus(ctx, action.ID, models.StatusSynced, ""); err != nil {
			return err
		}
		c.schedulePurge(action.ID)
		return nil
	case errors.Is(submitErr, ErrConflict):
		c.logger.Warn("action rejected as conflict", "id", action.ID, "err", submitErr)
		if err := c.queue.UpdateStatus(ctx, action.ID, models.StatusConflict, ""); err != nil {
			return err
		}
		return submitErr
	default:
		c.logger.Warn("action failed to sync", "id", action.ID, "type", action.Type, "err", submitErr)
		if err := c.queue.UpdateStatus(ctx, action.ID, models.StatusFailed, submitErr.Error()); err != nil {
			return err
		}
		return submitErr
	}
}

func (c *Coordinator) submit(ctx context.Context, action models.Action) error {
	if c.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.submitTimeout)
		defer cancel()
	}
	return c.sink.Submit(ctx, action)
}

func (c *Coordinator) schedulePurge(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		// Close flushes everything left in purges once background drains finish.
		c.purges[id] = func() bool { return true }
		return
	}
	c.purges[id] = c.afterFunc(c.graceDelay, func() {
		c.mu.Lock()
		delete(c.purges, id)
		c.mu.Unlock()
		c.purge(id)
	})
}

func (c *Coordinator) purge(id string) {
	ctx := context.Background()
	if err := c.queue.Remove(ctx, id); err != nil && !errors.Is(err, queue.ErrNotFound) {
		c.logger.Debug("skipping purge", "id", id, "err", err)
		return
	}
	c.Publish(ctx)
}

func (c *Coordinator) skipped(reason string) models.DrainResult {
	now := c.now()
	return models.DrainResult{Skipped: reason, StartedAt: now, FinishedAt: now}
}

func (c *Coordinator) record(fn func(StatusRecorder) error) {
	if c.recorder == nil {
		return
	}
	if err := fn(c.recorder); err != nil {
		c.logger.Warn("failed to record sync status", "err", err)
	}
}

// Trigger starts a background drain if online. Close waits for it.
func (c *Coordinator) Trigger(ctx context.Context) {
	if !c.online() {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.bg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.bg.Done()
		if _, err := c.Drain(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrNoSession) {
			c.logger.Debug("background drain finished with errors", "err", err)
		}
	}()
}

// RetryFailed resets failed and conflicted actions to pending and triggers a drain if online.
func (c *Coordinator) RetryFailed(ctx context.Context) (int, error) {
	n, err := c.queue.ResetFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed actions: %w", err)
	}
	c.Publish(ctx)
	if n > 0 {
		c.Trigger(ctx)
	}
	return n, nil
}

// ClearSynced drops every synced action now instead of waiting for the grace delay.
func (c *Coordinator) ClearSynced(ctx context.Context) (int, error) {
	n, err := c.queue.ClearSynced(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clear synced actions: %w", err)
	}
	c.mu.Lock()
	for id, stop := range c.purges {
		stop()
		delete(c.purges, id)
	}
	c.mu.Unlock()
	c.Publish(ctx)
	return n, nil
}

// Snapshot returns the current observable state.
func (c *Coordinator) Snapshot(ctx context.Context) (State, error) {
	counts, err := c.queue.Counts(ctx)
	if err != nil {
		return State{}, err
	}
	c.mu.Lock()
	last := c.lastDrain
	c.mu.Unlock()
	return State{
		PendingCount:  counts.Pending,
		SyncingCount:  counts.Syncing,
		FailedCount:   counts.Failed,
		ConflictCount: counts.Conflict,
		SyncedCount:   counts.Synced,
		IsOnline:      c.online(),
		IsSyncing:     c.syncing.Load(),
		LastDrain:     last,
	}, nil
}

// Subscribe registers fn for state updates and returns a function that unregisters it.
func (c *Coordinator) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Publish pushes a fresh snapshot to subscribers.
func (c *Coordinator) Publish(ctx context.Context) {
	c.mu.Lock()
	if len(c.subs) == 0 {
		c.mu.Unlock()
		return
	}
	subs := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	state, err := c.Snapshot(context.WithoutCancel(ctx))
	if err != nil {
		c.logger.Warn("failed to build state snapshot", "err", err)
		return
	}
	for _, fn := range subs {
		fn(state)
	}
}

// Close waits for background drains and purges synced actions that are still in their grace delay.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.bg.Wait()

	c.mu.Lock()
	var flush []string
	for id, stop := range c.purges {
		if stop() {
			flush = append(flush, id)
		}
		delete(c.purges, id)
	}
	c.mu.Unlock()

	for _, id := range flush {
		c.purge(id)
	}
}
