// Package control turns user intent into store actions bound to the devpod
// CLI, with each action's output captured in its log.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/workbench/internal/action"
	"github.com/mattjoyce/workbench/internal/actionlog"
	"github.com/mattjoyce/workbench/internal/devpod"
	"github.com/mattjoyce/workbench/internal/store"
	"github.com/mattjoyce/workbench/internal/workspace"
)

// ErrInvalidRequest wraps every validation failure of Do.
var ErrInvalidRequest = errors.New("invalid request")

//go:generate mockgen -destination=mocks/mock_driver.go -package=mocks github.com/mattjoyce/workbench/internal/control Driver

// Driver runs lifecycle commands. *devpod.Client satisfies it.
type Driver interface {
	Start(ctx context.Context, id string, sc devpod.StartConfig, sink devpod.Sink) (workspace.Status, error)
	Stop(ctx context.Context, id string, sink devpod.Sink) (workspace.Status, error)
	Rebuild(ctx context.Context, id string, sink devpod.Sink) (workspace.Status, error)
	Reset(ctx context.Context, id string, sink devpod.Sink) (workspace.Status, error)
	Remove(ctx context.Context, id string, force bool, sink devpod.Sink) error
}

// Starter registers and runs actions. *store.Store satisfies it.
type Starter interface {
	StartAction(req store.StartRequest) (string, error)
}

// Request is one user intent.
type Request struct {
	Action      action.Name        `json:"action"`
	WorkspaceID string             `json:"workspaceID"`
	Start       devpod.StartConfig `json:"start"`
	Force       bool               `json:"force,omitempty"`
}

func (r Request) validate() error {
	if r.WorkspaceID == "" {
		return fmt.Errorf("%w: workspace id is empty", ErrInvalidRequest)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, r.Action)
	}
	if r.Action == action.NameCreate && (r.Start.Source == nil || r.Start.Source.Source == "") {
		return fmt.Errorf("%w: create needs a source", ErrInvalidRequest)
	}
	return nil
}

// Controller maps requests to actions.
type Controller struct {
	starter Starter
	driver  Driver
	logs    actionlog.Manager
	logger  *slog.Logger
}

// New creates a Controller. logs may be nil, in which case action output is
// discarded.
func New(starter Starter, driver Driver, logs actionlog.Manager, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		starter: starter,
		driver:  driver,
		logs:    logs,
		logger:  logger.With("component", "controller"),
	}
}

// Do starts the action described by req and returns its ID. Any action
// already running on the workspace is superseded.
func (c *Controller) Do(req Request) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	return c.starter.StartAction(store.StartRequest{
		Name:        req.Action,
		WorkspaceID: req.WorkspaceID,
		Fn:          c.bind(req),
	})
}

func (c *Controller) bind(req Request) action.Func {
	return func(ctx context.Context, info action.Info) (workspace.Status, error) {
		sink, closeSink := c.openSink(info)
		defer closeSink()

		id := info.WorkspaceID
		switch info.Name {
		case action.NameCreate, action.NameStart:
			return c.driver.Start(ctx, id, req.Start, sink)
		case action.NameStop:
			return c.driver.Stop(ctx, id, sink)
		case action.NameRebuild:
			return c.driver.Rebuild(ctx, id, sink)
		case action.NameReset:
			return c.driver.Reset(ctx, id, sink)
		case action.NameRemove:
			return workspace.StatusUnknown, c.driver.Remove(ctx, id, req.Force, sink)
		}
		return workspace.StatusUnknown, fmt.Errorf("unsupported action %q", info.Name)
	}
}

func (c *Controller) openSink(info action.Info) (devpod.Sink, func()) {
	if c.logs == nil {
		return nil, func() {}
	}
	w, err := c.logs.Create(info.ID)
	if err != nil {
		c.logger.Warn("action log unavailable", "action_id", info.ID, "error", err)
		return nil, func() {}
	}
	return w, func() {
		if err := w.Err(); err != nil {
			c.logger.Warn("action log incomplete", "action_id", info.ID, "error", err)
		}
		if err := w.Close(); err != nil {
			c.logger.Warn("failed to close action log", "action_id", info.ID, "error", err)
		}
	}
}
