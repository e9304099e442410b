// ABOUTME: Drain notifications surfaced to the operator
// ABOUTME: Summarizes synced counts and warns when some actions failed
package syncer

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/harperreed/fieldsync/models"
)

// Notifier receives the result of every drain that attempted at least one action.
type Notifier interface {
	Notify(result models.DrainResult)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(models.DrainResult)

func (f NotifierFunc) Notify(r models.DrainResult) { f(r) }

// Summary renders the user-facing messages for a drain.
func Summary(r models.DrainResult) []string {
	var out []string
	if r.Synced > 0 {
		noun := "actions"
		if r.Synced == 1 {
			noun = "action"
		}
		out = append(out, fmt.Sprintf("%d %s synced", r.Synced, noun))
	}
	if r.Failed > 0 || r.Conflicts > 0 {
		out = append(out, "some actions failed to sync")
	}
	return out
}

// LogNotifier writes drain summaries to a logger.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Notify(r models.DrainResult) {
	logger := n.Logger
	if logger == nil {
		logger = log.Default()
	}
	if r.Synced > 0 {
		logger.Info(fmt.Sprintf("%d actions synced", r.Synced))
	}
	if r.Failed > 0 || r.Conflicts > 0 {
		logger.Warn("some actions failed to sync", "failed", r.Failed, "conflicts", r.Conflicts, "hint", "run `fieldsync retry`")
	}
}
