package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/workbench/internal/action"
	"github.com/mattjoyce/workbench/internal/events"
	"github.com/mattjoyce/workbench/internal/workspace"
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client *client

	width  int
	height int

	// State
	health     HealthState
	workspaces []workspace.Workspace
	actions    action.Snapshot
	eventLog   []events.Event

	// Live indicators
	ticker   Ticker
	activity Activity
	busy     spinner.Model

	// UI state
	theme Theme
	table table.Model

	// Communication
	hubEvents chan events.Event

	// Status line
	lastError string
	notice    string
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	theme := NewDefaultTheme()
	return &Model{
		client:    newClient(apiURL, apiKey),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		busy:      newBusySpinner(theme),
		theme:     theme,
		table:     newWorkspaceTable(theme),
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.subscribeToEvents(m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.client.fetchHealth,
		m.client.fetchWorkspaces,
		m.client.fetchActions,
		m.busy.Tick,
		tick(),
		tea.EnterAltScreen,
	)
}

// selectedWorkspace returns the ID under the table cursor.
func (m Model) selectedWorkspace() (string, bool) {
	row := m.table.SelectedRow()
	if len(row) == 0 {
		return "", false
	}
	return row[0], true
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	names := map[string]action.Name{
		"s": action.NameStart,
		"x": action.NameStop,
		"b": action.NameRebuild,
	}

	switch key := msg.String(); key {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "s", "x", "b":
		id, ok := m.selectedWorkspace()
		if !ok {
			return m, nil
		}
		return m, m.client.startAction(id, names[key])
	case "c":
		id, ok := m.selectedWorkspace()
		if !ok {
			return m, nil
		}
		m.notice = "cancelling action on " + id
		return m, m.client.cancelAction(id)
	case "r":
		return m, tea.Batch(m.client.fetchWorkspaces, m.client.fetchActions)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) refreshRows() {
	m.table.SetRows(workspaceRows(m.workspaces, activeByWorkspace(m.actions.Active), m.busy.View()))
}

// refetchFor picks the reads an event invalidates.
func (m Model) refetchFor(e events.Event) tea.Cmd {
	switch e.Kind {
	case events.KindWorkspaces:
		return m.client.fetchWorkspaces
	case events.KindActions:
		// Settling an action may also change the workspace status.
		return tea.Batch(m.client.fetchActions, m.client.fetchWorkspaces)
	}
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(max(20, msg.Width-8))

	case tickMsg:
		m.ticker.Tick()
		m.activity.Decay(time.Time(msg))
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.busy, cmd = m.busy.Update(msg)
		if len(m.actions.Active) > 0 {
			m.refreshRows()
		}
		return m, cmd

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = pushEvent(m.eventLog, e)
		m.activity.OnEvent(time.Now())
		m.health.Connected = true
		m.lastError = ""
		return m, tea.Batch(receiveNextEvent(m.hubEvents), m.refetchFor(e))

	case workspacesMsg:
		m.workspaces = msg
		m.refreshRows()

	case actionsMsg:
		m.actions = action.Snapshot(msg)
		m.refreshRows()

	case actionStartedMsg:
		m.notice = fmt.Sprintf("%s %s accepted (%s)", msg.Action, msg.WorkspaceID, msg.ActionID)
		m.lastError = ""

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Workspaces = msg.Workspaces
		m.health.ActiveActions = msg.ActiveActions
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return m.client.fetchHealth()
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel, so
		// the new subscription only needs to be opened.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, tea.Batch(
			m.client.subscribeToEvents(m.hubEvents),
			m.client.fetchWorkspaces,
			m.client.fetchActions,
		)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return m.client.fetchHealth()
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing watch..."
	}

	header := renderHeader(m.health, m.ticker, m.activity, m.theme, m.width, time.Now())
	list := renderWorkspaces(m.table, len(m.workspaces), m.theme, m.width)
	history := renderHistory(m.actions.History, m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, list, history, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	} else if m.notice != "" {
		parts = append(parts, m.theme.Highlight.Render(" "+m.notice))
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select • [s] Start • [x] Stop • [b] Rebuild • [c] Cancel • [r] Refresh")
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
