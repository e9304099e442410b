// ABOUTME: TUI status bar and sync controls for the offline action queue
// ABOUTME: Renders queue counts and connectivity, and runs sync, retry, clear and discard
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/syncer"
)

var (
	syncHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Underline(true)

	syncIdleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	syncSyncingStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("11")).
				Bold(true)

	syncErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	syncOfflineStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("208")).
				Bold(true)

	syncMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Italic(true)
)

// SyncCompleteMsg is sent when a manual drain completes.
type SyncCompleteMsg struct {
	Result models.DrainResult
	Error  error
}

// OpCompleteMsg is sent when a retry, clear or discard completes.
type OpCompleteMsg struct {
	Op    string
	Count int
	Error error
}

func statusLabel(s models.SyncStatus) string {
	switch s {
	case models.StatusSynced:
		return syncIdleStyle.Render("synced")
	case models.StatusSyncing:
		return syncSyncingStyle.Render("syncing")
	case models.StatusFailed:
		return syncErrorStyle.Render("failed")
	case models.StatusConflict:
		return syncErrorStyle.Render("conflict")
	}
	return string(s)
}

func (m Model) renderStatusBar() string {
	var parts []string

	if m.state.IsOnline {
		parts = append(parts, syncIdleStyle.Render("● Online"))
	} else {
		parts = append(parts, syncOfflineStyle.Render("○ Offline"))
	}

	if m.state.IsSyncing || m.syncing {
		parts = append(parts, m.spinner.View()+syncSyncingStyle.Render("Syncing..."))
	}

	parts = append(parts, fmt.Sprintf("%d pending", m.state.PendingCount))
	if m.state.FailedCount > 0 {
		parts = append(parts, syncErrorStyle.Render(fmt.Sprintf("%d failed", m.state.FailedCount)))
	}
	if m.state.ConflictCount > 0 {
		parts = append(parts, syncErrorStyle.Render(fmt.Sprintf("%d conflict", m.state.ConflictCount)))
	}
	if m.state.SyncedCount > 0 {
		parts = append(parts, syncIdleStyle.Render(fmt.Sprintf("%d synced", m.state.SyncedCount)))
	}
	if d := m.state.LastDrain; d != nil && !d.FinishedAt.IsZero() {
		parts = append(parts, syncMessageStyle.Render("last sync "+formatTimeSince(d.FinishedAt)))
	}

	return strings.Join(parts, "  ")
}

func (m Model) renderActivity() string {
	if len(m.syncMessages) == 0 {
		return ""
	}

	var s strings.Builder
	s.WriteString(syncHeaderStyle.Render("Recent Activity"))
	s.WriteString("\n\n")
	// Show last 5 messages
	start := 0
	if len(m.syncMessages) > 5 {
		start = len(m.syncMessages) - 5
	}
	for i := start; i < len(m.syncMessages); i++ {
		s.WriteString(syncMessageStyle.Render("  " + m.syncMessages[i]))
		s.WriteString("\n")
	}
	return s.String()
}

// syncQueue drains the queue now.
func (m Model) syncQueue() tea.Cmd {
	return func() tea.Msg {
		res, err := m.svc.SyncQueue(context.Background())
		return SyncCompleteMsg{Result: res, Error: err}
	}
}

func (m Model) retryFailed() tea.Cmd {
	return func() tea.Msg {
		n, err := m.svc.RetryFailed(context.Background())
		return OpCompleteMsg{Op: "retry", Count: n, Error: err}
	}
}

func (m Model) clearSynced() tea.Cmd {
	return func() tea.Msg {
		n, err := m.svc.ClearSynced(context.Background())
		return OpCompleteMsg{Op: "clear", Count: n, Error: err}
	}
}

func (m Model) discard(id string) tea.Cmd {
	return func() tea.Msg {
		err := m.svc.Discard(context.Background(), id)
		count := 1
		if err != nil {
			count = 0
		}
		return OpCompleteMsg{Op: "discard", Count: count, Error: err}
	}
}

// addSyncMessage adds a message to the sync message log.
func (m *Model) addSyncMessage(msg string) {
	timestamp := time.Now().Format("15:04:05")
	m.syncMessages = append(m.syncMessages, fmt.Sprintf("[%s] %s", timestamp, msg))
}

// handleSyncComplete handles sync completion messages.
func (m *Model) handleSyncComplete(msg SyncCompleteMsg) tea.Cmd {
	m.syncing = false
	res := msg.Result

	switch {
	case errors.Is(msg.Error, syncer.ErrNoSession):
		m.addSyncMessage("✗ Not logged in: run 'fieldsync login'")
	case msg.Error != nil && res.Attempted == 0:
		m.addSyncMessage(fmt.Sprintf("✗ Sync failed: %v", msg.Error))
	case res.Skipped == models.SkipOffline:
		m.addSyncMessage("Offline: sync will run when the network returns")
	case res.Skipped == models.SkipAlreadySyncing:
		m.addSyncMessage("A sync is already running")
	case res.Attempted == 0:
		m.addSyncMessage("✓ Nothing to sync")
	default:
		for _, line := range syncer.Summary(res) {
			if res.Failed+res.Conflicts > 0 && strings.Contains(line, "failed") {
				m.addSyncMessage("✗ " + line)
			} else {
				m.addSyncMessage("✓ " + line)
			}
		}
	}

	return m.loadActions
}

// handleOpComplete reports retry, clear and discard results.
func (m *Model) handleOpComplete(msg OpCompleteMsg) tea.Cmd {
	if msg.Error != nil {
		m.addSyncMessage(fmt.Sprintf("✗ %s failed: %v", msg.Op, msg.Error))
		return m.loadActions
	}

	switch msg.Op {
	case "retry":
		m.addSyncMessage(fmt.Sprintf("✓ Requeued %d actions", msg.Count))
	case "clear":
		m.addSyncMessage(fmt.Sprintf("✓ Cleared %d synced actions", msg.Count))
	case "discard":
		m.addSyncMessage("✓ Discarded action")
	}
	return m.loadActions
}

// formatTimeSince formats a time duration in a human-readable way.
func formatTimeSince(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return "just now"
	} else if duration < time.Hour {
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	} else if duration < 24*time.Hour {
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}
