// ABOUTME: Wires configuration into the database, queue, cache, sink and sync coordinator
// ABOUTME: Every CLI command runs against one App built from the loaded config
package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"

	"github.com/harperreed/fieldsync/cache"
	"github.com/harperreed/fieldsync/charm"
	"github.com/harperreed/fieldsync/config"
	"github.com/harperreed/fieldsync/db"
	"github.com/harperreed/fieldsync/device"
	"github.com/harperreed/fieldsync/geo"
	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/netmon"
	"github.com/harperreed/fieldsync/offline"
	"github.com/harperreed/fieldsync/queue"
	"github.com/harperreed/fieldsync/sink"
	"github.com/harperreed/fieldsync/syncer"
)

// SyncService is the sync_state row the action queue reports into.
const SyncService = "actions"

const probeTimeout = 3 * time.Second

// CacheMode says whether a command opens the badger cache. Badger locks its
// directory, so only one process at a time can hold it.
type CacheMode int

const (
	// CacheNone skips the cache entirely.
	CacheNone CacheMode = iota
	// CacheOptional opens the cache when it is free and runs without it otherwise.
	CacheOptional
	// CacheRequired fails when the cache cannot be opened.
	CacheRequired
)

// App holds the long-lived components shared by commands.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Device  device.Identity
	Cache   *cache.Cache
	Monitor *netmon.Monitor
	Queue   *queue.Queue
	Coord   *syncer.Coordinator
	Service *offline.Service
	Charm   *charm.Client
	Logger  *log.Logger
	Out     io.Writer
}

// NewApp opens the stores named by cfg and wires the sync pipeline.
// The network is probed once before the reconnect hook is installed so that
// a command starting online does not race a reconnect drain.
func NewApp(ctx context.Context, cfg *config.Config, logger *log.Logger, mode CacheMode) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Out: os.Stdout}

	database, err := db.OpenDatabase(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = database

	a.Device, err = device.LoadOrCreate(cfg.DeviceIDPath)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if a.Device.New {
		logger.Info("generated device id", "id", a.Device.ID)
	}

	if err := a.openCache(mode); err != nil {
		_ = a.Close()
		return nil, err
	}

	out, session, err := a.openSink()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	if url := cfg.HealthCheckURL(); url != "" {
		a.Monitor = netmon.New(netmon.HTTPProber{URL: url, Timeout: probeTimeout},
			netmon.WithInterval(cfg.ProbeInterval.Duration), netmon.WithLogger(logger))
		a.Monitor.Check(ctx)
	} else {
		// Charm-only setups have no health endpoint; sync failures mark entries failed instead.
		a.Monitor = netmon.New(nil, netmon.WithInitialState(true), netmon.WithLogger(logger))
	}

	if err := a.wire(ctx, out, session); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openCache(mode CacheMode) error {
	if mode == CacheNone {
		return nil
	}
	c, err := cache.Open(a.Config.CacheDir, cache.WithLogger(a.Logger))
	switch {
	case err == nil:
		a.Cache = c
		return nil
	case errors.Is(err, cache.ErrLocked) && mode == CacheOptional:
		a.Logger.Warn("cache is held by another fieldsync process, running without it", "dir", a.Config.CacheDir)
		return nil
	case errors.Is(err, cache.ErrLocked):
		return fmt.Errorf("%w (is `fieldsync daemon` running?)", err)
	default:
		return err
	}
}

func (a *App) openSink() (syncer.Sink, syncer.Session, error) {
	cfg := a.Config
	who := sink.Attribution{TenantID: cfg.TenantID, UserID: cfg.UserID, DeviceID: a.Device.ID}

	switch cfg.Sink {
	case config.SinkCharm:
		client, err := charm.Open(cfg.CharmHost, cfg.CharmAutoSync)
		if err != nil {
			return nil, nil, err
		}
		a.Charm = client
		if who.UserID == "" {
			if id, err := client.ID(); err == nil {
				who.UserID = id
			} else {
				a.Logger.Warn("could not resolve charm user id", "err", err)
			}
		}
		// The charm key pair is the session.
		return sink.NewCharm(client, who), nil, nil

	default:
		token, err := sink.LoadToken(cfg.TokenPath)
		if err != nil {
			return nil, nil, err
		}
		out := sink.NewHTTP(cfg.Server, token, sink.WithAttribution(who))
		session := syncer.SessionFunc(func() bool {
			return cfg.Server != "" && sink.TokenSession{Token: token}.Authenticated()
		})
		return out, session, nil
	}
}

// pendingSink is implemented by sinks that also deliver pending cache writes.
type pendingSink interface {
	SubmitPending(ctx context.Context, e models.PendingSyncEntry) error
}

// wire builds the queue, coordinator and service over already opened stores.
func (a *App) wire(ctx context.Context, out syncer.Sink, session syncer.Session) error {
	cfg := a.Config

	q, err := queue.Open(ctx, db.NewActionStore(a.DB, queue.Namespace, a.Logger), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	a.Queue = q

	opts := []syncer.Option{
		syncer.WithGraceDelay(cfg.GraceDelay.Duration),
		syncer.WithSubmitTimeout(cfg.SubmitTimeout.Duration),
		syncer.WithOnline(a.Monitor.Online),
		syncer.WithNotifier(syncer.LogNotifier{Logger: a.Logger}),
		syncer.WithStatusRecorder(db.DrainRecorder{DB: a.DB, Service: SyncService}),
		syncer.WithLogger(a.Logger),
	}
	if session != nil {
		opts = append(opts, syncer.WithSession(session))
	}
	a.Coord = syncer.New(q, out, opts...)

	svcOpts := []offline.Option{
		offline.WithLocator(newLocator(cfg.Location, a.Logger)),
		offline.WithMonitor(a.Monitor),
		offline.WithLogger(a.Logger),
	}
	if a.Cache != nil {
		svcOpts = append(svcOpts, offline.WithCache(a.Cache))
	}
	if ps, ok := out.(pendingSink); ok {
		svcOpts = append(svcOpts, offline.WithPendingSubmitter(ps.SubmitPending))
	}
	a.Service = offline.New(a.Device.ID, q, a.Coord, svcOpts...)
	return nil
}

func newLocator(loc config.Location, logger *log.Logger) *geo.Locator {
	var p geo.Provider
	switch loc.Provider {
	case config.LocationGPSD:
		p = geo.GPSD{Addr: loc.GPSDAddr}
	case config.LocationStatic:
		p = geo.Static{Lat: loc.Lat, Lng: loc.Lng, Accuracy: loc.Accuracy}
	default:
		p = geo.Unavailable{}
	}
	return geo.NewLocator(p, loc.Timeout.Duration, geo.WithLogger(logger))
}

// Close waits for background syncs and releases every store.
func (a *App) Close() error {
	if a.Service != nil {
		a.Service.Close()
	}
	var result *multierror.Error
	if a.Charm != nil {
		result = multierror.Append(result, a.Charm.Close())
	}
	if a.Cache != nil {
		result = multierror.Append(result, a.Cache.Close())
	}
	if a.DB != nil {
		result = multierror.Append(result, a.DB.Close())
	}
	return result.ErrorOrNil()
}
