// ABOUTME: Cache and pending-write CLI commands
// ABOUTME: Inspect and maintain the offline reference data cache
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/fieldsync/cache"
	"github.com/harperreed/fieldsync/syncer"
)

var errNoCache = errors.New("cache is not open for this command")

// CacheCommand routes cache subcommands: set, get, delete, clear, sweep, probe, partitions.
func CacheCommand(app *App, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: fieldsync cache <set|get|delete|clear|sweep|probe|partitions>")
	}
	c := app.Service.Cache()
	if c == nil {
		return errNoCache
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "set":
		fs := flag.NewFlagSet("cache set", flag.ExitOnError)
		_ = fs.Parse(rest)
		if fs.NArg() != 3 {
			return fmt.Errorf("usage: fieldsync cache set <partition> <key> <json>")
		}
		var value json.RawMessage
		if err := json.Unmarshal([]byte(fs.Arg(2)), &value); err != nil {
			return fmt.Errorf("value must be JSON: %w", err)
		}
		if err := c.Set(fs.Arg(0), fs.Arg(1), value); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(app.Out, "✓ Cached %s/%s\n", fs.Arg(0), fs.Arg(1))

	case "get":
		fs := flag.NewFlagSet("cache get", flag.ExitOnError)
		_ = fs.Parse(rest)
		if fs.NArg() != 2 {
			return fmt.Errorf("usage: fieldsync cache get <partition> <key>")
		}
		entry, ok, err := c.Entry(fs.Arg(0), fs.Arg(1))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("cache miss: %s/%s", fs.Arg(0), fs.Arg(1))
		}
		_, _ = fmt.Fprintf(app.Out, "%s\n", entry.Data)
		_, _ = fmt.Fprintf(app.Out, "cached %s, expires in %s\n",
			formatTimeSince(entry.Timestamp), time.Until(entry.ExpiresAt).Round(time.Second))

	case "delete":
		fs := flag.NewFlagSet("cache delete", flag.ExitOnError)
		_ = fs.Parse(rest)
		if fs.NArg() != 2 {
			return fmt.Errorf("usage: fieldsync cache delete <partition> <key>")
		}
		if err := c.Delete(fs.Arg(0), fs.Arg(1)); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(app.Out, "✓ Deleted %s/%s\n", fs.Arg(0), fs.Arg(1))

	case "clear":
		fs := flag.NewFlagSet("cache clear", flag.ExitOnError)
		_ = fs.Parse(rest)
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: fieldsync cache clear <partition>")
		}
		n, err := c.ClearPartition(fs.Arg(0))
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(app.Out, "✓ Cleared %d entries from %s\n", n, fs.Arg(0))

	case "sweep":
		n, err := c.SweepExpired()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(app.Out, "✓ Removed %d expired entries\n", n)

	case "probe":
		ok, err := c.HasAnyCachedData()
		if err != nil {
			return err
		}
		if ok {
			_, _ = fmt.Fprintln(app.Out, "✓ Cached data available offline")
		} else {
			_, _ = fmt.Fprintln(app.Out, "No unexpired cached data")
		}

	case "partitions":
		w := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "PARTITION\tTTL")
		for _, p := range c.Partitions() {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", p.Name, p.TTL)
		}
		return w.Flush()

	default:
		return fmt.Errorf("unknown cache command: %s", sub)
	}
	return nil
}

// PendingCommand routes pending-write subcommands: list, add, remove, retry, flush.
func PendingCommand(app *App, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: fieldsync pending <list|add|remove|retry|flush>")
	}
	store := app.Service.Pending()
	if store == nil {
		return errNoCache
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "flush":
		res, err := app.Service.FlushPending(context.Background())
		switch {
		case errors.Is(err, syncer.ErrNoSession):
			return fmt.Errorf("not logged in. Run 'fieldsync login' first")
		case err != nil && res.Attempted == 0:
			return err
		case res.Busy:
			_, _ = fmt.Fprintln(app.Out, "A flush is already running")
		case res.Attempted == 0 && !app.Monitor.Online():
			_, _ = fmt.Fprintln(app.Out, "Offline: nothing was sent")
		default:
			_, _ = fmt.Fprintf(app.Out, "✓ Delivered %d of %d pending writes\n", res.Delivered, res.Attempted)
			if res.Exhausted > 0 {
				_, _ = fmt.Fprintf(app.Out, "%d exhausted entries skipped\n", res.Exhausted)
			}
		}
		if err != nil {
			app.Logger.Warn("some pending writes failed", "err", err)
		}

	case "list":
		entries, err := store.List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			_, _ = fmt.Fprintln(app.Out, "No pending writes")
			return nil
		}
		w := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tTYPE\tCREATED\tRETRIES")
		for _, e := range entries {
			retries := fmt.Sprintf("%d", e.RetryCount)
			if e.RetryCount >= cache.MaxRetries {
				retries += " (exhausted)"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Type, formatTimeSince(e.CreatedAt), retries)
		}
		return w.Flush()

	case "add":
		fs := flag.NewFlagSet("pending add", flag.ExitOnError)
		_ = fs.Parse(rest)
		if fs.NArg() != 2 {
			return fmt.Errorf("usage: fieldsync pending add <type> <json>")
		}
		var data json.RawMessage
		if err := json.Unmarshal([]byte(fs.Arg(1)), &data); err != nil {
			return fmt.Errorf("data must be JSON: %w", err)
		}
		entry, err := store.Add(fs.Arg(0), data)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(app.Out, "✓ Added pending write %s\n", entry.ID)

	case "remove", "retry":
		fs := flag.NewFlagSet("pending "+sub, flag.ExitOnError)
		_ = fs.Parse(rest)
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: fieldsync pending %s <id>", sub)
		}
		id, err := uuid.Parse(fs.Arg(0))
		if err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
		if sub == "remove" {
			if err := store.Remove(id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(app.Out, "✓ Removed %s\n", id)
			return nil
		}
		n, err := store.IncrementRetry(id)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(app.Out, "✓ %s retry count is now %d\n", id, n)

	default:
		return fmt.Errorf("unknown pending command: %s", sub)
	}
	return nil
}
