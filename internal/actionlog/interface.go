// Package actionlog keeps the streamed CLI output of each action as a JSONL
// file named after the action ID.
package actionlog

import (
	"context"
	"time"

	"github.com/mattjoyce/workbench/internal/devpod"
)

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedFiles int
}

// Manager governs action log files.
type Manager interface {
	// Create opens a new log for actionID. The returned Writer is a
	// devpod.Sink.
	Create(actionID string) (*Writer, error)

	// Read returns every event logged for actionID, oldest first.
	Read(ctx context.Context, actionID string) ([]devpod.Event, error)

	// Remove deletes the logs of the given actions. Missing logs are ignored.
	Remove(actionIDs ...string) error

	// Cleanup removes logs older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
