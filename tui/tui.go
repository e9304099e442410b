// ABOUTME: Terminal User Interface using bubbletea framework
// ABOUTME: Live view of the offline action queue with sync, retry and clear controls
package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/offline"
	"github.com/harperreed/fieldsync/syncer"
)

// ViewMode represents the current TUI view
type ViewMode int

const (
	ViewQueue ViewMode = iota
	ViewDetail
)

// StateMsg carries a coordinator state update.
type StateMsg syncer.State

type actionsLoadedMsg struct {
	actions []models.Action
	err     error
}

// Model is the main bubbletea model
type Model struct {
	svc      *offline.Service
	viewMode ViewMode

	actions     []models.Action
	selectedRow int
	selectedID  string

	state        syncer.State
	syncing      bool
	spinner      spinner.Model
	syncMessages []string
	updates      chan syncer.State

	width  int
	height int
	err    error
}

// NewModel creates a new TUI model
func NewModel(svc *offline.Service) Model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = syncSyncingStyle
	return Model{
		svc:      svc,
		viewMode: ViewQueue,
		spinner:  sp,
		updates:  make(chan syncer.State, 16),
		width:    80,
		height:   24,
	}
}

// Run shows the TUI until the user quits.
func Run(svc *offline.Service) error {
	m := NewModel(svc)
	unsubscribe := svc.Subscribe(m.push)
	defer unsubscribe()

	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// push forwards state updates without blocking the coordinator.
func (m Model) push(s syncer.State) {
	select {
	case m.updates <- s:
	default:
	}
}

func (m Model) waitForState() tea.Cmd {
	return func() tea.Msg {
		return StateMsg(<-m.updates)
	}
}

func (m Model) loadActions() tea.Msg {
	actions, err := m.svc.List(context.Background())
	return actionsLoadedMsg{actions: actions, err: err}
}

func (m Model) loadState() tea.Msg {
	state, err := m.svc.State(context.Background())
	if err != nil {
		return actionsLoadedMsg{err: err}
	}
	return StateMsg(state)
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadActions, m.loadState, m.waitForState())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case StateMsg:
		m.state = syncer.State(msg)
		return m, tea.Batch(m.loadActions, m.waitForState())
	case actionsLoadedMsg:
		m.err = msg.err
		if msg.err == nil {
			m.actions = msg.actions
			if m.selectedRow >= len(m.actions) && len(m.actions) > 0 {
				m.selectedRow = len(m.actions) - 1
			}
		}
		return m, nil
	case SyncCompleteMsg:
		return m, m.handleSyncComplete(msg)
	case OpCompleteMsg:
		return m, m.handleOpComplete(msg)
	}
	return m, nil
}

func (m Model) View() string {
	switch m.viewMode {
	case ViewQueue:
		return m.renderQueueView()
	case ViewDetail:
		return m.renderDetailView()
	}
	return ""
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	}

	// Delegate to view-specific handlers
	switch m.viewMode {
	case ViewQueue:
		return m.handleQueueKeys(msg)
	case ViewDetail:
		return m.handleDetailKeys(msg)
	}

	return m, nil
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginBottom(1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))
)
