// ABOUTME: TUI table of queued actions in sync order
// ABOUTME: Navigation and the per-action entry point into the detail view
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

func (m Model) renderQueueView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("FIELD SYNC"))
	s.WriteString("\n")

	s.WriteString(m.renderStatusBar())
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n\n")
	}

	if len(m.actions) == 0 {
		s.WriteString(syncMessageStyle.Render("No queued actions."))
	} else {
		s.WriteString(m.renderTable())
	}
	s.WriteString("\n\n")

	s.WriteString(m.renderActivity())
	s.WriteString(m.renderQueueHelp())

	return s.String()
}

func (m Model) renderTable() string {
	columns := []table.Column{
		{Title: "Type", Width: 18},
		{Title: "Entity", Width: 16},
		{Title: "Status", Width: 10},
		{Title: "Captured", Width: 16},
		{Title: "Error", Width: 30},
	}

	var rows []table.Row
	for _, a := range m.actions {
		rows = append(rows, table.Row{
			string(a.Type),
			a.EntityRef,
			statusLabel(a.Status),
			formatTimeSince(a.CapturedAt),
			a.Error,
		})
	}

	height := m.height - 14
	if height < 5 {
		height = 5
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(height),
	)

	if m.selectedRow < len(rows) {
		t.SetCursor(m.selectedRow)
	}

	return t.View()
}

func (m Model) renderQueueHelp() string {
	help := []string{
		"↑/↓: Navigate",
		"Enter: View details",
		"s: Sync now",
		"r: Retry failed",
		"c: Clear synced",
		"q: Quit",
	}
	return helpStyle.Render(strings.Join(help, " • "))
}

func (m Model) handleQueueKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.selectedRow > 0 {
			m.selectedRow--
		}
	case "down", "j":
		if m.selectedRow < len(m.actions)-1 {
			m.selectedRow++
		}
	case "enter":
		if m.selectedRow < len(m.actions) {
			m.viewMode = ViewDetail
			m.selectedID = m.actions[m.selectedRow].ID
		}
	case "s":
		if m.syncing {
			return m, nil
		}
		m.syncing = true
		m.addSyncMessage("Starting sync...")
		return m, tea.Batch(m.syncQueue(), m.spinner.Tick)
	case "r":
		return m, m.retryFailed()
	case "c":
		return m, m.clearSynced()
	}

	return m, nil
}
