// ABOUTME: Action CLI commands
// ABOUTME: Capture, list and discard queued field actions
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/harperreed/fieldsync/models"
)

// AddCommand queues a new action: fieldsync add <type> --data JSON [--entity REF].
func AddCommand(app *App, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("usage: fieldsync add <type> --data JSON [--entity REF]\ntypes: %s", typeList())
	}
	actionType, err := models.ParseActionType(args[0])
	if err != nil {
		return fmt.Errorf("%w\ntypes: %s", err, typeList())
	}

	fs := flag.NewFlagSet("add", flag.ExitOnError)
	entity := fs.String("entity", "", "Entity the action applies to (asset tag, visitor id)")
	data := fs.String("data", "", "Action payload as a JSON object (required)")
	_ = fs.Parse(args[1:])

	if *data == "" {
		return fmt.Errorf("--data is required")
	}
	payload, err := models.DecodePayload(actionType, json.RawMessage(*data))
	if err != nil {
		return err
	}

	id, err := app.Service.AddAction(context.Background(), payload, *entity)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(app.Out, "✓ Queued %s action: %s\n", actionType, id)
	if !app.Monitor.Online() {
		_, _ = fmt.Fprintln(app.Out, "  Offline: it will sync when the network returns")
	}
	return nil
}

func typeList() string {
	names := make([]string, len(models.ActionTypes))
	for i, t := range models.ActionTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// ListCommand prints the queue in sync order.
func ListCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", "", "Only show actions with this status")
	asJSON := fs.Bool("json", false, "Print the queue as JSON")
	_ = fs.Parse(args)

	actions, err := app.Service.List(context.Background())
	if err != nil {
		return err
	}
	if *status != "" {
		filtered := actions[:0]
		for _, a := range actions {
			if string(a.Status) == *status {
				filtered = append(filtered, a)
			}
		}
		actions = filtered
	}

	if *asJSON {
		enc := json.NewEncoder(app.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(actions)
	}

	if len(actions) == 0 {
		_, _ = fmt.Fprintln(app.Out, "No queued actions")
		return nil
	}

	w := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tENTITY\tSTATUS\tCAPTURED\tGPS\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t------\t--------\t---\t-----")
	for _, a := range actions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Type, orDash(a.EntityRef), a.Status,
			a.CapturedAt.Local().Format(time.DateTime), formatGeo(a.Geo), orDash(a.Error))
	}
	return w.Flush()
}

// DiscardCommand drops an action from the queue without syncing it.
func DiscardCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("discard", flag.ExitOnError)
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: fieldsync discard <action-id>")
	}
	id := fs.Arg(0)
	if err := app.Service.Discard(context.Background(), id); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(app.Out, "✓ Discarded %s\n", id)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatGeo(g *models.Geo) string {
	if g == nil {
		return "-"
	}
	return fmt.Sprintf("%.5f,%.5f ±%.0fm", g.Lat, g.Lng, g.Accuracy)
}
