package watch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/workbench/internal/action"
	"github.com/mattjoyce/workbench/internal/events"
	"github.com/mattjoyce/workbench/internal/workspace"
)

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: actions",
		`data: {"id":7,"kind":"actions","workspace_id":"ws1","action_id":"a1"}`,
		"",
		"id: 8",
		"event: workspaces",
		`data: {"kind":"workspaces"}`,
		"",
		"data: not json",
		"",
	}, "\n")

	ch := make(chan events.Event, 4)
	readSSE(strings.NewReader(stream), ch)
	close(ch)

	var got []events.Event
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, events.KindActions, got[0].Kind)
	assert.Equal(t, "a1", got[0].ActionID)
	assert.Equal(t, int64(8), got[1].ID, "id line fills a missing payload id")
	assert.Equal(t, events.KindWorkspaces, got[1].Kind)
}

func TestPushEventKeepsNewestFirst(t *testing.T) {
	var log []events.Event
	for i := 1; i <= maxEventLog+5; i++ {
		log = pushEvent(log, events.Event{ID: int64(i)})
	}
	require.Len(t, log, maxEventLog)
	assert.Equal(t, int64(maxEventLog+5), log[0].ID)
	assert.Equal(t, int64(6), log[len(log)-1].ID)
}

func TestFormatEvent(t *testing.T) {
	theme := NewDefaultTheme()
	line := formatEvent(events.Event{
		ID: 12, Kind: events.KindActions, At: time.Now(),
		WorkspaceID: "ws1", ActionID: "0123456789abcdef",
	}, theme)

	assert.Contains(t, line, "#12")
	assert.Contains(t, line, "actions")
	assert.Contains(t, line, "ws1 [01234567]")
	assert.NotContains(t, line, "89abcdef")
}

func TestWorkspaceRows(t *testing.T) {
	list := []workspace.Workspace{
		{ID: "ws1", Status: workspace.StatusRunning, Provider: &workspace.Provider{Name: "docker"}, IDE: workspace.IDE{Name: "vscode"},
			Source: workspace.Source{GitRepository: "https://github.com/org/repo", GitBranch: "main"}},
		{ID: "ws2"},
	}
	active := activeByWorkspace([]action.Record{{ID: "a1", Name: action.NameStop, WorkspaceID: "ws2"}})

	rows := workspaceRows(list, active, "*")
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"ws1", "Running", "docker", "vscode", "", "https://github.com/org/repo@main"}, []string(rows[0]))
	assert.Equal(t, []string{"ws2", "-", "-", "", "* stop", ""}, []string(rows[1]))
}

func TestActivityDecay(t *testing.T) {
	var a Activity
	start := time.Now()
	a.OnEvent(start)
	assert.Equal(t, 5, a.dots)

	a.Decay(start.Add(time.Second))
	assert.Equal(t, 5, a.dots)
	a.Decay(start.Add(5 * time.Second))
	assert.Equal(t, 3, a.dots)
	a.Decay(start.Add(11 * time.Second))
	assert.Equal(t, 0, a.dots)
	assert.Equal(t, start, a.LastEvent())
}

func TestRenderHistoryNewestFirst(t *testing.T) {
	theme := NewDefaultTheme()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	done := base.Add(90 * time.Second)
	history := []action.Record{
		{ID: "a1", Name: action.NameStart, WorkspaceID: "old-ws", Status: action.StatusSuccess, CreatedAt: base, FinishedAt: &done},
		{ID: "a2", Name: action.NameStop, WorkspaceID: "new-ws", Status: action.StatusError, Error: "exit code 1", CreatedAt: base.Add(time.Minute), FinishedAt: &done},
	}

	out := renderHistory(history, theme, 120)
	assert.Less(t, strings.Index(out, "new-ws"), strings.Index(out, "old-ws"))
	assert.Contains(t, out, "exit code 1")
	assert.Contains(t, renderHistory(nil, theme, 120), "No finished actions")
}

func TestRenderHeader(t *testing.T) {
	theme := NewDefaultTheme()
	out := renderHeader(HealthState{Status: "ok", Connected: true, UptimeSeconds: 7200, Workspaces: 3, ActiveActions: 1},
		NewTicker(), Activity{}, theme, 100, time.Now())

	assert.Contains(t, out, "WORKBENCH WATCH")
	assert.Contains(t, out, "HEALTHY")
	assert.Contains(t, out, "2 hours")
	assert.Contains(t, out, "Workspaces: 3")
	assert.Contains(t, out, "Last change: never")

	out = renderHeader(HealthState{}, NewTicker(), Activity{}, theme, 100, time.Now())
	assert.Contains(t, out, "CONNECTING")
}

type apiStub struct {
	mu    sync.Mutex
	calls []string
}

func (s *apiStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls = append(s.calls, r.Method+" "+r.URL.Path+" "+r.Header.Get("Authorization"))
	}
	mux.HandleFunc("GET /workspaces", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"workspaces": []workspace.Workspace{{ID: "ws1", Status: workspace.StatusStopped}},
		})
	})
	mux.HandleFunc("POST /workspaces/{id}/{action}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if r.PathValue("id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "workspace not found"})
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"action_id": "a1", "action": r.PathValue("action"), "workspace_id": r.PathValue("id"),
		})
	})
	mux.HandleFunc("DELETE /workspaces/{id}/action", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestClientCommands(t *testing.T) {
	stub := &apiStub{}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()
	c := newClient(srv.URL+"/", "secret")

	msg := c.fetchWorkspaces()
	list, ok := msg.(workspacesMsg)
	require.True(t, ok, "got %T", msg)
	require.Len(t, list, 1)
	assert.Equal(t, workspace.StatusStopped, list[0].Status)

	started, ok := c.startAction("ws1", action.NameRebuild)().(actionStartedMsg)
	require.True(t, ok)
	assert.Equal(t, action.NameRebuild, started.Action)
	assert.Equal(t, "a1", started.ActionID)

	failed, ok := c.startAction("missing", action.NameStart)().(errMsg)
	require.True(t, ok)
	assert.Contains(t, failed.Error(), "workspace not found")

	assert.Nil(t, c.cancelAction("ws1")())

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, []string{
		"GET /workspaces Bearer secret",
		"POST /workspaces/ws1/rebuild Bearer secret",
		"POST /workspaces/missing/start Bearer secret",
		"DELETE /workspaces/ws1/action Bearer secret",
	}, stub.calls)
}

func TestModelUpdate(t *testing.T) {
	stub := &apiStub{}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	var m tea.Model = *New(srv.URL, "")
	m, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = m.Update(workspacesMsg{{ID: "ws1"}, {ID: "ws2"}})
	m, _ = m.Update(actionsMsg{Active: []action.Record{{ID: "a1", Name: action.NameStart, WorkspaceID: "ws1"}}})

	model := m.(Model)
	require.Len(t, model.table.Rows(), 2)
	assert.Contains(t, model.table.Rows()[0][4], "start")
	id, ok := model.selectedWorkspace()
	require.True(t, ok)
	assert.Equal(t, "ws1", id)

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	require.NotNil(t, cmd)
	started, ok := cmd().(actionStartedMsg)
	require.True(t, ok)
	assert.Equal(t, action.NameStop, started.Action)

	m, _ = m.Update(started)
	assert.Contains(t, m.(Model).notice, "stop ws1 accepted")

	m, cmd = m.Update(eventMsg(events.Event{ID: 3, Kind: events.KindWorkspaces}))
	require.NotNil(t, cmd)
	model = m.(Model)
	require.Len(t, model.eventLog, 1)
	assert.True(t, model.health.Connected)

	view := model.View()
	assert.Contains(t, view, "WORKSPACES")
	assert.Contains(t, view, "ws2")
	assert.Contains(t, view, "EVENT STREAM")

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
