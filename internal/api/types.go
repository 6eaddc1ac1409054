package api

import (
	"github.com/mattjoyce/workbench/internal/action"
	"github.com/mattjoyce/workbench/internal/devpod"
	"github.com/mattjoyce/workbench/internal/workspace"
)

// CreateWorkspaceRequest is the JSON body for POST /workspaces
type CreateWorkspaceRequest struct {
	ID string `json:"id"`
	devpod.StartConfig
}

// WorkspaceActionRequest is the optional JSON body for
// POST /workspaces/{id}/{action}
type WorkspaceActionRequest struct {
	Force bool `json:"force,omitempty"`
	devpod.StartConfig
}

// ActionAcceptedResponse is returned when an action was started
type ActionAcceptedResponse struct {
	ActionID    string      `json:"action_id"`
	Action      action.Name `json:"action"`
	WorkspaceID string      `json:"workspace_id"`
}

// WorkspaceResponse is returned by GET /workspaces/{id}
type WorkspaceResponse struct {
	workspace.Workspace
	CurrentAction *action.Record `json:"current_action,omitempty"`
}

// WorkspaceListResponse is returned by GET /workspaces
type WorkspaceListResponse struct {
	Workspaces []workspace.Workspace `json:"workspaces"`
}

// ActionLogsResponse is returned by GET /actions/{id}/logs
type ActionLogsResponse struct {
	ActionID string         `json:"action_id"`
	Events   []devpod.Event `json:"events"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Workspaces    int    `json:"workspaces"`
	ActiveActions int    `json:"active_actions"`
}
