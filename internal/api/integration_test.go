package api_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/mattjoyce/workbench/internal/action"
	"github.com/mattjoyce/workbench/internal/api"
	"github.com/mattjoyce/workbench/internal/control"
	"github.com/mattjoyce/workbench/internal/devpod"
	"github.com/mattjoyce/workbench/internal/events"
	"github.com/mattjoyce/workbench/internal/log"
	"github.com/mattjoyce/workbench/internal/state"
	"github.com/mattjoyce/workbench/internal/storage"
	"github.com/mattjoyce/workbench/internal/store"
	"github.com/mattjoyce/workbench/internal/workspace"
)

type instantDriver struct{}

func (instantDriver) Start(context.Context, string, devpod.StartConfig, devpod.Sink) (workspace.Status, error) {
	return workspace.StatusRunning, nil
}

func (instantDriver) Stop(context.Context, string, devpod.Sink) (workspace.Status, error) {
	return workspace.StatusStopped, nil
}

func (instantDriver) Rebuild(context.Context, string, devpod.Sink) (workspace.Status, error) {
	return workspace.StatusRunning, nil
}

func (instantDriver) Reset(context.Context, string, devpod.Sink) (workspace.Status, error) {
	return workspace.StatusRunning, nil
}

func (instantDriver) Remove(context.Context, string, bool, devpod.Sink) error { return nil }

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

// TestAPIIntegration tests the full API flow with a SQLite-backed ledger
func TestAPIIntegration(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	if err := storage.BootstrapSQLite(ctx, db); err != nil {
		t.Fatalf("failed to bootstrap database: %v", err)
	}

	hub := events.NewHub(16)
	s := store.New(action.NewLedger(state.NewSQLiteKV(db)), hub, log.Discard())
	defer s.Close()
	s.SetWorkspaces([]workspace.Workspace{{ID: "ws1", Provider: &workspace.Provider{Name: "docker"}}})

	ctrl := control.New(s, instantDriver{}, nil, log.Discard())
	addr := freeAddr(t)
	server := api.New(api.Config{Listen: addr, APIKey: "test-key-123"}, s, ctrl, nil, hub, log.Discard())

	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(serverCtx)
	}()

	client := &http.Client{Timeout: 5 * time.Second}
	baseURL := "http://" + addr

	// Wait for the listener.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := client.Get(baseURL + "/healthz")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	req, _ := http.NewRequest(http.MethodPost, baseURL+"/workspaces/ws1/start?wait=true", nil)
	req.Header.Set("Authorization", "Bearer test-key-123")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("failed to start action: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	var rec action.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("failed to decode record: %v", err)
	}
	if rec.Status != action.StatusSuccess {
		t.Fatalf("expected success, got %s", rec.Status)
	}

	// Logs are disabled in this setup.
	req, _ = http.NewRequest(http.MethodGet, baseURL+"/actions/"+rec.ID+"/logs", nil)
	req.Header.Set("Authorization", "Bearer test-key-123")
	resp2, err := client.Do(req)
	if err != nil {
		t.Fatalf("failed to fetch logs: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp2.StatusCode)
	}

	// Unauthorized request
	resp3, err := client.Get(baseURL + "/workspaces")
	if err != nil {
		t.Fatalf("failed to make unauthorized request: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp3.StatusCode)
	}

	cancel()
	select {
	case err := <-serverErr:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
