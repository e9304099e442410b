// ABOUTME: Best-effort, timeout-bounded single-shot location capture
// ABOUTME: Wraps position providers so failures resolve to an explicit result, never an error
package geo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/fieldsync/models"
)

// DefaultTimeout bounds a single position request.
const DefaultTimeout = 10 * time.Second

// AnnotateMaxAge is how old a cached fix may be when merely annotating captured data.
const AnnotateMaxAge = 60 * time.Second

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnavailable      = errors.New("location unavailable")
)

// Reason classifies why no position was obtained.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonPermissionDenied Reason = "permission_denied"
	ReasonTimeout          Reason = "timeout"
	ReasonUnavailable      Reason = "unavailable"
	ReasonUnknown          Reason = "unknown"
)

// Fix is a single position report.
type Fix struct {
	Lat      float64
	Lng      float64
	Accuracy float64 // metres
	Time     time.Time
}

// Provider obtains a position. Implementations must honour ctx cancellation.
type Provider interface {
	Position(ctx context.Context, highAccuracy bool) (Fix, error)
}

// Options tune a single Locate call.
type Options struct {
	// MaximumAge allows reuse of a cached fix no older than this. Zero disables reuse.
	MaximumAge   time.Duration
	HighAccuracy bool
}

// HighAccuracyOptions is used on the writing path: fresh fix only.
func HighAccuracyOptions() Options {
	return Options{HighAccuracy: true}
}

// AnnotateOptions is used when tagging captured data and tolerates a recent cached fix.
func AnnotateOptions() Options {
	return Options{MaximumAge: AnnotateMaxAge}
}

// Result is either Coordinates (ok) or a Reason (failure).
type Result struct {
	Coordinates *models.Geo
	Reason      Reason
	Err         error
}

// OK reports whether a position was obtained.
func (r Result) OK() bool {
	return r.Coordinates != nil
}

// Geo returns the coordinates or nil.
func (r Result) Geo() *models.Geo {
	return r.Coordinates
}

// Locator performs bounded position requests and caches the last good fix.
type Locator struct {
	provider Provider
	timeout  time.Duration
	now      func() time.Time
	logger   *log.Logger

	mu   sync.Mutex
	last *Fix
}

// Option configures a Locator.
type Option func(*Locator)

// WithClock overrides the time source used for cache age checks.
func WithClock(now func() time.Time) Option {
	return func(l *Locator) { l.now = now }
}

// WithLogger sets the logger for failed lookups.
func WithLogger(logger *log.Logger) Option {
	return func(l *Locator) { l.logger = logger }
}

// NewLocator creates a locator. A non-positive timeout uses DefaultTimeout.
func NewLocator(p Provider, timeout time.Duration, opts ...Option) *Locator {
	if p == nil {
		p = Unavailable{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	l := &Locator{
		provider: p,
		timeout:  timeout,
		now:      time.Now,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate returns the current position or the reason it could not be obtained.
// It never blocks longer than the configured timeout.
func (l *Locator) Locate(ctx context.Context, opts Options) Result {
	if opts.MaximumAge > 0 {
		if fix, ok := l.cached(opts.MaximumAge); ok {
			return Result{Coordinates: toGeo(fix)}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	type outcome struct {
		fix Fix
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		fix, err := l.provider.Position(ctx, opts.HighAccuracy)
		ch <- outcome{fix, err}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-ctx.Done():
		out.err = ctx.Err()
	}

	if out.err != nil {
		reason := classify(out.err)
		l.logger.Debug("location capture failed", "reason", reason, "err", out.err)
		return Result{Reason: reason, Err: out.err}
	}

	if out.fix.Time.IsZero() {
		out.fix.Time = l.now()
	}
	l.mu.Lock()
	l.last = &out.fix
	l.mu.Unlock()

	return Result{Coordinates: toGeo(out.fix)}
}

func (l *Locator) cached(maxAge time.Duration) (Fix, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return Fix{}, false
	}
	if l.now().Sub(l.last.Time) > maxAge {
		return Fix{}, false
	}
	return *l.last, true
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, ErrPermissionDenied):
		return ReasonPermissionDenied
	case errors.Is(err, ErrUnavailable):
		return ReasonUnavailable
	}
	return ReasonUnknown
}

func toGeo(f Fix) *models.Geo {
	return &models.Geo{Lat: f.Lat, Lng: f.Lng, Accuracy: f.Accuracy}
}

// Static always reports the same position; used for fixed posts such as gate houses.
type Static struct {
	Lat      float64
	Lng      float64
	Accuracy float64
}

func (s Static) Position(_ context.Context, _ bool) (Fix, error) {
	return Fix{Lat: s.Lat, Lng: s.Lng, Accuracy: s.Accuracy, Time: time.Now()}, nil
}

// Unavailable is the provider for devices without any positioning source.
type Unavailable struct{}

func (Unavailable) Position(context.Context, bool) (Fix, error) {
	return Fix{}, ErrUnavailable
}
