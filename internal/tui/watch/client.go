package watch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/workbench/internal/action"
	"github.com/mattjoyce/workbench/internal/events"
	"github.com/mattjoyce/workbench/internal/workspace"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Workspaces    int    `json:"workspaces"`
	ActiveActions int    `json:"active_actions"`
}

type workspacesMsg []workspace.Workspace

type actionsMsg action.Snapshot

type actionStartedMsg struct {
	ActionID    string      `json:"action_id"`
	Action      action.Name `json:"action"`
	WorkspaceID string      `json:"workspace_id"`
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// --- Client ---

// client talks to the workbench API.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(baseURL, apiKey string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *client) request(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doJSON runs a request and decodes a 2xx JSON response into out.
func (c *client) doJSON(method, path string, body, out any) error {
	req, err := c.request(context.Background(), method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- Commands ---

func (c *client) fetchHealth() tea.Msg {
	var h healthMsg
	if err := c.doJSON(http.MethodGet, "/healthz", nil, &h); err != nil {
		return errMsg(err)
	}
	return h
}

func (c *client) fetchWorkspaces() tea.Msg {
	var resp struct {
		Workspaces []workspace.Workspace `json:"workspaces"`
	}
	if err := c.doJSON(http.MethodGet, "/workspaces", nil, &resp); err != nil {
		return errMsg(err)
	}
	return workspacesMsg(resp.Workspaces)
}

func (c *client) fetchActions() tea.Msg {
	var snap action.Snapshot
	if err := c.doJSON(http.MethodGet, "/actions", nil, &snap); err != nil {
		return errMsg(err)
	}
	return actionsMsg(snap)
}

func (c *client) startAction(workspaceID string, name action.Name) tea.Cmd {
	return func() tea.Msg {
		var resp actionStartedMsg
		path := fmt.Sprintf("/workspaces/%s/%s", workspaceID, name)
		if err := c.doJSON(http.MethodPost, path, nil, &resp); err != nil {
			return errMsg(err)
		}
		return resp
	}
}

func (c *client) cancelAction(workspaceID string) tea.Cmd {
	return func() tea.Msg {
		if err := c.doJSON(http.MethodDelete, "/workspaces/"+workspaceID+"/action", nil, nil); err != nil {
			return errMsg(err)
		}
		return nil
	}
}

// subscribeToEvents connects to the SSE /events endpoint and feeds events
// into ch. Returns sseDisconnectedMsg when the connection drops.
func (c *client) subscribeToEvents(ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := c.request(context.Background(), http.MethodGet, "/events", nil)
		if err != nil {
			return errMsg(err)
		}
		// The stream outlives the default client timeout.
		resp, err := (&http.Client{}).Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("GET /events: %s", resp.Status))
		}

		readSSE(resp.Body, ch)
		return sseDisconnectedMsg{}
	}
}

// readSSE parses an SSE stream whose data lines carry events.Event JSON.
func readSSE(r io.Reader, ch chan<- events.Event) {
	scanner := bufio.NewScanner(r)
	var id int64
	var data string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data != "" {
				var ev events.Event
				if err := json.Unmarshal([]byte(data), &ev); err == nil {
					if ev.ID == 0 {
						ev.ID = id
					}
					ch <- ev
				}
			}
			id, data = 0, ""
		case strings.HasPrefix(line, "id: "):
			if n, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				id = n
			}
		case strings.HasPrefix(line, "data: "):
			data = line[6:]
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}
