// ABOUTME: TUI detail view for a single queued action
// ABOUTME: Shows location, status and the decoded payload, and allows discarding
package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/fieldsync/models"
)

var (
	fieldLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Width(14)

	fieldValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

func (m Model) selectedAction() (models.Action, bool) {
	for _, a := range m.actions {
		if a.ID == m.selectedID {
			return a, true
		}
	}
	return models.Action{}, false
}

func (m Model) renderDetailView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("ACTION DETAIL"))
	s.WriteString("\n\n")

	a, ok := m.selectedAction()
	if !ok {
		s.WriteString(syncMessageStyle.Render("This action is no longer queued."))
		s.WriteString("\n\n")
		s.WriteString(helpStyle.Render("Esc: Back • q: Quit"))
		return s.String()
	}

	s.WriteString(m.renderField("ID", a.ID))
	s.WriteString(m.renderField("Type", string(a.Type)))
	s.WriteString(m.renderField("Entity", a.EntityRef))
	s.WriteString(m.renderField("Device", a.DeviceID))
	s.WriteString(m.renderField("Captured", a.CapturedAt.Local().Format(time.DateTime)))
	s.WriteString(m.renderField("Status", statusLabel(a.Status)))
	if a.Error != "" {
		s.WriteString(m.renderField("Error", a.Error))
	}
	if a.Geo != nil {
		s.WriteString(m.renderField("Location", fmt.Sprintf("%.5f, %.5f (±%.0fm)", a.Geo.Lat, a.Geo.Lng, a.Geo.Accuracy)))
	} else {
		s.WriteString(m.renderField("Location", "not captured"))
	}

	s.WriteString("\n")
	s.WriteString(lipgloss.NewStyle().Bold(true).Render("PAYLOAD"))
	s.WriteString("\n")
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, a.Data, "  ", "  "); err != nil {
		pretty.Reset()
		pretty.Write(a.Data)
	}
	s.WriteString("  " + pretty.String())
	s.WriteString("\n\n")

	s.WriteString(helpStyle.Render("x: Discard • Esc: Back • q: Quit"))
	return s.String()
}

func (m Model) renderField(label, value string) string {
	if value == "" {
		value = "-"
	}
	return fieldLabelStyle.Render(label+":") + " " + fieldValueStyle.Render(value) + "\n"
}

func (m Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.viewMode = ViewQueue
	case "x":
		id := m.selectedID
		m.viewMode = ViewQueue
		return m, m.discard(id)
	}
	return m, nil
}
