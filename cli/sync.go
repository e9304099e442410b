// ABOUTME: Sync CLI commands
// ABOUTME: Drains the queue on demand, retries failures and reports sync status
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/harperreed/fieldsync/db"
	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/queue"
	"github.com/harperreed/fieldsync/syncer"
)

// SyncCommand drains the queue once.
func SyncCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	_ = fs.Parse(args)

	res, err := app.Service.SyncQueue(context.Background())
	if errors.Is(err, syncer.ErrNoSession) {
		return fmt.Errorf("not logged in. Run 'fieldsync login' first")
	}
	if err != nil && res.Attempted == 0 {
		return err
	}

	switch res.Skipped {
	case models.SkipOffline:
		_, _ = fmt.Fprintln(app.Out, "Offline: nothing was sent")
		return nil
	case models.SkipAlreadySyncing:
		_, _ = fmt.Fprintln(app.Out, "A sync is already running")
		return nil
	}

	if res.Attempted == 0 {
		_, _ = fmt.Fprintln(app.Out, "✓ Nothing to sync")
		return nil
	}

	printDrain(app, res)
	return nil
}

func printDrain(app *App, res models.DrainResult) {
	_, _ = fmt.Fprintf(app.Out, "✓ Synced %d of %d actions in %s\n",
		res.Synced, res.Attempted, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	if res.Failed+res.Conflicts == 0 {
		return
	}

	ids := make([]string, 0, len(res.Errors))
	for id := range res.Errors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	_, _ = fmt.Fprintf(app.Out, "✗ %d failed, %d conflicts:\n", res.Failed, res.Conflicts)
	for _, id := range ids {
		_, _ = fmt.Fprintf(app.Out, "  %s: %s\n", id, res.Errors[id])
	}
	_, _ = fmt.Fprintln(app.Out, "\nRun 'fieldsync retry' to try conflicts again")
}

// RetryCommand resets failed and conflicting actions to pending and syncs them.
func RetryCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("retry", flag.ExitOnError)
	_ = fs.Parse(args)

	n, err := app.Service.RetryFailed(context.Background())
	if err != nil {
		return err
	}
	if n == 0 {
		_, _ = fmt.Fprintln(app.Out, "✓ No failed actions")
		return nil
	}
	_, _ = fmt.Fprintf(app.Out, "✓ Requeued %d actions\n", n)
	if !app.Monitor.Online() {
		_, _ = fmt.Fprintln(app.Out, "  Offline: they will sync when the network returns")
	}
	return nil
}

// ClearCommand removes synced actions that are still waiting out the grace delay.
func ClearCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	_ = fs.Parse(args)

	n, err := app.Service.ClearSynced(context.Background())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(app.Out, "✓ Cleared %d synced actions\n", n)
	return nil
}

// StatusCommand shows queue counts, connectivity and recent drains.
func StatusCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	drains := fs.Int("drains", 5, "Number of recent drains to show")
	_ = fs.Parse(args)

	state, err := app.Service.State(context.Background())
	if err != nil {
		return err
	}

	network := "offline"
	if state.IsOnline {
		network = "online"
	}

	_, _ = fmt.Fprintln(app.Out, "Field Sync Status")
	_, _ = fmt.Fprintln(app.Out, "=================")
	_, _ = fmt.Fprintf(app.Out, "Device:   %s\n", app.Device.ID)
	_, _ = fmt.Fprintf(app.Out, "Sink:     %s\n", app.Config.Sink)
	_, _ = fmt.Fprintf(app.Out, "Network:  %s\n", network)
	_, _ = fmt.Fprintf(app.Out, "Queue:    %d pending, %d failed, %d conflict, %d synced\n",
		state.PendingCount, state.FailedCount, state.ConflictCount, state.SyncedCount)

	syncState, err := db.GetSyncState(app.DB, SyncService)
	if err != nil {
		return err
	}
	if syncState == nil {
		_, _ = fmt.Fprintln(app.Out, "Last sync: never")
	} else {
		last := "never"
		if syncState.LastSyncTime != nil {
			last = formatTimeSince(*syncState.LastSyncTime)
		}
		_, _ = fmt.Fprintf(app.Out, "Last sync: %s (%s)\n", last, syncState.Status)
		if syncState.ErrorMessage != nil {
			_, _ = fmt.Fprintf(app.Out, "Error:     %s\n", *syncState.ErrorMessage)
		}
	}

	quarantined, err := db.ListQuarantine(app.DB, queue.Namespace)
	if err != nil {
		return err
	}
	if len(quarantined) > 0 {
		_, _ = fmt.Fprintf(app.Out, "Quarantined queue records: %d (newest %s)\n",
			len(quarantined), formatTimeSince(quarantined[0].QuarantinedAt))
	}

	if pending := app.Service.Pending(); pending != nil {
		n, err := pending.Count()
		if err != nil {
			return err
		}
		exhausted, err := pending.Exhausted()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(app.Out, "Pending cache writes: %d (%d exhausted)\n", n, len(exhausted))
	}

	history, err := db.RecentDrains(app.DB, SyncService, *drains)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}

	_, _ = fmt.Fprintln(app.Out, "\nRecent drains:")
	w := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "WHEN\tATTEMPTED\tSYNCED\tFAILED\tCONFLICTS")
	for _, d := range history {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
			formatTimeSince(d.FinishedAt), d.Attempted, d.Synced, d.Failed, d.Conflicts)
	}
	return w.Flush()
}

// formatTimeSince renders a coarse relative time.
func formatTimeSince(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
