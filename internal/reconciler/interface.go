package reconciler

import (
	"context"

	"github.com/mattjoyce/workbench/internal/workspace"
)

//go:generate mockgen -destination=mocks/mock_reconciler.go -package=mocks github.com/mattjoyce/workbench/internal/reconciler Source,Target

// Source is the external authority polled for workspace state.
type Source interface {
	ListWorkspaces(ctx context.Context) ([]workspace.Workspace, error)
	WorkspaceStatus(ctx context.Context, id string) (workspace.Status, error)
}

// Target receives reconciled state. *store.Store satisfies it.
type Target interface {
	SetWorkspaces(list []workspace.Workspace) bool
	SetStatus(id string, status workspace.Status) bool
	GetAll() []workspace.Workspace
	HasActiveAction(id string) bool
}
