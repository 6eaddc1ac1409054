package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/workbench/internal/action"
	"github.com/mattjoyce/workbench/internal/actionlog"
	"github.com/mattjoyce/workbench/internal/control"
	"github.com/mattjoyce/workbench/internal/devpod"
	"github.com/mattjoyce/workbench/internal/store"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Workspaces:    len(s.store.GetAll()),
		ActiveActions: len(s.store.GetAllActions().Active),
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListWorkspaces handles GET /workspaces
func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, WorkspaceListResponse{Workspaces: s.store.GetAll()})
}

// handleGetWorkspace handles GET /workspaces/{id}
func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ws, ok := s.store.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "workspace not found")
		return
	}

	resp := WorkspaceResponse{Workspace: ws}
	if rec, ok := s.store.GetCurrentAction(id); ok {
		resp.CurrentAction = &rec
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleCreateWorkspace handles POST /workspaces
func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, exists := s.store.Get(req.ID); exists {
		s.writeError(w, http.StatusConflict, "workspace already exists")
		return
	}

	s.startAction(w, r, control.Request{
		Action:      action.NameCreate,
		WorkspaceID: req.ID,
		Start:       req.StartConfig,
	})
}

// handleWorkspaceAction handles POST /workspaces/{id}/{action}
func (s *Server) handleWorkspaceAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := action.Name(chi.URLParam(r, "action"))
	if !name.Valid() || name == action.NameCreate {
		s.writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if _, ok := s.store.Get(id); !ok {
		s.writeError(w, http.StatusNotFound, "workspace not found")
		return
	}

	var req WorkspaceActionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	s.startAction(w, r, control.Request{
		Action:      name,
		WorkspaceID: id,
		Start:       req.StartConfig,
		Force:       req.Force,
	})
}

// startAction runs req and answers 202 with the action ID, or with the
// finished record when ?wait=true.
func (s *Server) startAction(w http.ResponseWriter, r *http.Request, req control.Request) {
	actionID, err := s.runner.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, control.ErrInvalidRequest):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrClosed):
			s.writeError(w, http.StatusServiceUnavailable, "shutting down")
		default:
			s.logger.Error("failed to start action", "workspace_id", req.WorkspaceID, "action", req.Action, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to start action")
		}
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		respondJSON(w, http.StatusAccepted, ActionAcceptedResponse{
			ActionID:    actionID,
			Action:      req.Action,
			WorkspaceID: req.WorkspaceID,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.waitTimeout(r))
	defer cancel()
	rec, err := s.store.Wait(ctx, actionID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			respondJSON(w, http.StatusAccepted, ActionAcceptedResponse{
				ActionID:    actionID,
				Action:      req.Action,
				WorkspaceID: req.WorkspaceID,
			})
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) waitTimeout(r *http.Request) time.Duration {
	d, err := time.ParseDuration(r.URL.Query().Get("timeout"))
	if err != nil || d <= 0 || d > s.config.MaxWait {
		return s.config.MaxWait
	}
	return d
}

// handleCancelAction handles DELETE /workspaces/{id}/action
func (s *Server) handleCancelAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.store.CancelAction(id) {
		s.writeError(w, http.StatusNotFound, "no active action")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListActions handles GET /actions
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.store.GetAllActions())
}

// handleGetAction handles GET /actions/{id}
func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.GetAction(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "action not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleActionLogs handles GET /actions/{id}/logs
func (s *Server) handleActionLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.logs == nil {
		s.writeError(w, http.StatusNotFound, "action logs disabled")
		return
	}

	evs, err := s.logs.Read(r.Context(), id)
	if err != nil {
		if errors.Is(err, actionlog.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "action log not found")
			return
		}
		s.logger.Error("failed to read action log", "action_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read action log")
		return
	}
	if evs == nil {
		evs = []devpod.Event{}
	}
	respondJSON(w, http.StatusOK, ActionLogsResponse{ActionID: id, Events: evs})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
