// ABOUTME: Background sync daemon
// ABOUTME: Watches connectivity, drains the queue on a schedule and sweeps expired cache entries
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// MinDaemonInterval is the shortest allowed scheduled drain or sweep interval.
const MinDaemonInterval = 30 * time.Second

func validateInterval(name string, d time.Duration) error {
	if d < MinDaemonInterval {
		return fmt.Errorf("--%s must be at least %s (got %s)", name, MinDaemonInterval, d)
	}
	return nil
}

// DaemonCommand runs until interrupted.
func DaemonCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	interval := fs.Duration("interval", app.Config.SyncInterval.Duration, "Scheduled drain interval")
	sweepInterval := fs.Duration("sweep-interval", app.Config.SweepInterval.Duration, "Expired cache sweep interval")
	_ = fs.Parse(args)

	if err := validateInterval("interval", *interval); err != nil {
		return err
	}
	if err := validateInterval("sweep-interval", *sweepInterval); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Logger.Info("sync daemon started", "device", app.Device.ID, "interval", *interval, "sweep", *sweepInterval)
	err := runDaemon(ctx, app, *interval, *sweepInterval)
	app.Logger.Info("sync daemon stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runDaemon blocks until ctx is cancelled or a loop fails.
func runDaemon(ctx context.Context, app *App, interval, sweepInterval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	if app.Config.HealthCheckURL() != "" {
		g.Go(func() error {
			return app.Monitor.Run(ctx)
		})
	}

	g.Go(func() error {
		app.Coord.Trigger(ctx)
		flushPending(ctx, app)
		return every(ctx, interval, func() {
			app.Coord.Trigger(ctx)
			flushPending(ctx, app)
		})
	})

	g.Go(func() error {
		return every(ctx, sweepInterval, func() {
			sweep(app)
		})
	})

	return g.Wait()
}

func flushPending(ctx context.Context, app *App) {
	if _, err := app.Service.FlushPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Warn("pending cache writes failed to sync", "err", err)
	}
}

func sweep(app *App) {
	c := app.Service.Cache()
	if c == nil {
		return
	}
	n, err := c.SweepExpired()
	if err != nil {
		app.Logger.Error("cache sweep failed", "err", err)
		return
	}
	if n > 0 {
		app.Logger.Info("swept expired cache entries", "count", n)
	}

	exhausted, err := app.Service.Pending().Exhausted()
	if err != nil {
		app.Logger.Error("failed to check pending writes", "err", err)
		return
	}
	if len(exhausted) > 0 {
		app.Logger.Warn("pending writes exhausted their retries", "count", len(exhausted), "hint", "run `fieldsync pending list`")
	}
}

func every(ctx context.Context, d time.Duration, fn func()) error {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}
