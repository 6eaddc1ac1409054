// Package store is the single authority over workspace state and the
// action running against each workspace.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/mattjoyce/workbench/internal/action"
	"github.com/mattjoyce/workbench/internal/events"
	"github.com/mattjoyce/workbench/internal/workspace"
)

var (
	// ErrClosed is returned by mutating calls after Close.
	ErrClosed = errors.New("store is closed")
	// ErrUnknownAction is returned by Wait for an ID that is neither active
	// nor in the history.
	ErrUnknownAction = errors.New("unknown action")
)

// StartRequest describes an action to start on a workspace.
type StartRequest struct {
	Name        action.Name
	WorkspaceID string
	Fn          action.Func
}

func (r StartRequest) validate() error {
	switch {
	case r.WorkspaceID == "":
		return fmt.Errorf("workspace id is empty")
	case !r.Name.Valid():
		return fmt.Errorf("unknown action %q", r.Name)
	case r.Fn == nil:
		return fmt.Errorf("action %s has no work bound", r.Name)
	}
	return nil
}

// Store owns the workspace list, the active action per workspace and the
// ledger. Every mutation that changes observable state publishes exactly one
// event per kind it touched, in mutation order.
type Store struct {
	ledger *action.Ledger
	hub    *events.Hub
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	workspaces []workspace.Workspace
	running    map[string]*action.Action
	published  action.Snapshot
}

// New creates a store over ledger. A nil hub gets a private one.
func New(ledger *action.Ledger, hub *events.Hub, logger *slog.Logger) *Store {
	if hub == nil {
		hub = events.NewHub(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		ledger:  ledger,
		hub:     hub,
		logger:  logger.With("component", "store"),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]*action.Action),
	}
	s.published = ledger.GetAll()
	return s
}

// Hub exposes the event hub the store publishes to.
func (s *Store) Hub() *events.Hub { return s.hub }

// Close cancels every active action without archiving it and waits for the
// running work to return. The store stays readable afterwards.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, a := range s.ledger.GetAllActive() {
		a.Cancel()
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}

// SetWorkspaces reconciles the store with a freshly fetched list. Entries
// without an ID and repeated IDs are dropped. Workspaces already known keep
// their in-memory status; new ones take the fetched status. It reports
// whether anything changed, and publishes only in that case.
func (s *Store) SetWorkspaces(list []workspace.Workspace) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	known := make(map[string]workspace.Status, len(s.workspaces))
	for _, w := range s.workspaces {
		known[w.ID] = w.Status
	}

	seen := make(map[string]struct{}, len(list))
	next := make([]workspace.Workspace, 0, len(list))
	for _, w := range list {
		if w.ID == "" {
			continue
		}
		if _, dup := seen[w.ID]; dup {
			continue
		}
		seen[w.ID] = struct{}{}
		if status, ok := known[w.ID]; ok {
			w.Status = status
		}
		next = append(next, w)
	}

	merged, changed := workspace.Merge(s.workspaces, next)
	if !changed {
		return false
	}
	s.workspaces = merged
	s.publishLocked(events.Event{Kind: events.KindWorkspaces})
	return true
}

// SetStatus records status for a known workspace. Unknown IDs and unchanged
// statuses are ignored. It reports whether anything changed.
func (s *Store) SetStatus(id string, status workspace.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.setStatusLocked(id, status) {
		return false
	}
	s.publishLocked(events.Event{Kind: events.KindWorkspaces, WorkspaceID: id})
	return true
}

func (s *Store) setStatusLocked(id string, status workspace.Status) bool {
	i := s.indexLocked(id)
	if i < 0 || s.workspaces[i].Status == status {
		return false
	}
	// Copy on write: readers may hold the previous slice.
	next := slices.Clone(s.workspaces)
	next[i].Status = status
	s.workspaces = next
	return true
}

// RemoveWorkspace drops id from the store. It reports whether it was known.
func (s *Store) RemoveWorkspace(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.removeLocked(id) {
		return false
	}
	s.publishLocked(events.Event{Kind: events.KindWorkspaces, WorkspaceID: id})
	return true
}

func (s *Store) removeLocked(id string) bool {
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.workspaces = slices.Delete(slices.Clone(s.workspaces), i, i+1)
	return true
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.workspaces, func(w workspace.Workspace) bool { return w.ID == id })
}

// Get returns the workspace with id.
func (s *Store) Get(id string) (workspace.Workspace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return workspace.Workspace{}, false
	}
	return s.workspaces[i], true
}

// GetAll returns the workspaces in the order the last list reported them.
func (s *Store) GetAll() []workspace.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.workspaces)
}

// StartAction supersedes any active action on the workspace (cancel, then
// archive), registers a new pending action and runs it in the background.
// The pending state is published before StartAction returns.
func (s *Store) StartAction(req StartRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	if prev := s.ledger.GetActive(req.WorkspaceID); prev != nil {
		prev.Cancel()
		s.ledger.Archive(prev)
		delete(s.running, prev.ID())
		// prev may have finished before its settle got the lock.
		if s.applyOutcomeLocked(prev) {
			s.publishLocked(events.Event{Kind: events.KindWorkspaces, WorkspaceID: req.WorkspaceID})
		}
		s.logger.Info("action superseded",
			"workspace_id", req.WorkspaceID,
			"action_id", prev.ID(),
			"action", prev.Name(),
			"by", req.Name,
		)
	}

	a := action.New(req.Name, req.WorkspaceID, req.Fn)
	a.Once(s.settle)
	s.ledger.AddActive(a)
	s.running[a.ID()] = a
	s.publishLocked(events.Event{Kind: events.KindActions, WorkspaceID: a.WorkspaceID(), ActionID: a.ID()})

	s.logger.Info("action started", "workspace_id", a.WorkspaceID(), "action_id", a.ID(), "action", a.Name())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		a.Run(s.ctx)
	}()
	return a.ID(), nil
}

// settle archives a finished action, applies its outcome to the workspace
// and publishes. Actions that were superseded or cancelled by Close never
// get here because cancellation drops their listeners.
func (s *Store) settle(a *action.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ledger.Archive(a) {
		return
	}
	delete(s.running, a.ID())

	logger := s.logger.With("workspace_id", a.WorkspaceID(), "action_id", a.ID(), "action", a.Name())
	if err := a.Err(); err != nil {
		logger.Warn("action failed", "error", err)
	} else {
		logger.Info("action finished", "status", a.Status())
	}

	if s.applyOutcomeLocked(a) {
		s.publishLocked(events.Event{Kind: events.KindWorkspaces, WorkspaceID: a.WorkspaceID()})
	}
	s.publishLocked(events.Event{Kind: events.KindActions, WorkspaceID: a.WorkspaceID(), ActionID: a.ID()})
}

// applyOutcomeLocked applies a successful action's result to its workspace
// and reports whether the workspace list changed.
func (s *Store) applyOutcomeLocked(a *action.Action) bool {
	if a.Status() != action.StatusSuccess {
		return false
	}
	switch {
	case a.Name() == action.NameRemove:
		return s.removeLocked(a.WorkspaceID())
	case a.Result() != workspace.StatusUnknown:
		return s.setStatusLocked(a.WorkspaceID(), a.Result())
	}
	return false
}

// CancelAction cancels the active action on workspaceID, archiving it as
// cancelled. It reports whether there was one.
func (s *Store) CancelAction(workspaceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	a := s.ledger.GetActive(workspaceID)
	if a == nil {
		return false
	}
	a.Cancel()
	if !s.ledger.Archive(a) {
		return false
	}
	delete(s.running, a.ID())
	if s.applyOutcomeLocked(a) {
		s.publishLocked(events.Event{Kind: events.KindWorkspaces, WorkspaceID: workspaceID})
	}
	s.logger.Info("action cancelled", "workspace_id", workspaceID, "action_id", a.ID(), "action", a.Name())
	s.publishLocked(events.Event{Kind: events.KindActions, WorkspaceID: workspaceID, ActionID: a.ID()})
	return true
}

// HasActiveAction reports whether workspaceID has a pending action.
func (s *Store) HasActiveAction(workspaceID string) bool {
	return s.ledger.GetActive(workspaceID) != nil
}

// GetCurrentAction returns the active action for workspaceID as of the last
// publication.
func (s *Store) GetCurrentAction(workspaceID string) (action.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.published.Active {
		if r.WorkspaceID == workspaceID {
			return r, true
		}
	}
	return action.Record{}, false
}

// GetAllActions returns the active and archived actions as of the last
// publication.
func (s *Store) GetAllActions() action.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return action.Snapshot{
		Active:  slices.Clone(s.published.Active),
		History: slices.Clone(s.published.History),
	}
}

// GetAction looks up one action by ID, active first, then history.
func (s *Store) GetAction(id string) (action.Record, bool) {
	snap := s.GetAllActions()
	for _, list := range [][]action.Record{snap.Active, snap.History} {
		for i := len(list) - 1; i >= 0; i-- {
			if list[i].ID == id {
				return list[i], true
			}
		}
	}
	return action.Record{}, false
}

// Wait blocks until the action with id is terminal and returns its record.
func (s *Store) Wait(ctx context.Context, id string) (action.Record, error) {
	s.mu.Lock()
	a, ok := s.running[id]
	s.mu.Unlock()

	if !ok {
		if r, found := s.GetAction(id); found && r.Status.Terminal() {
			return r, nil
		}
		return action.Record{}, fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}

	select {
	case <-a.Done():
		return a.Record(), nil
	case <-ctx.Done():
		return action.Record{}, ctx.Err()
	}
}

// Subscribe calls fn for every event of the given kinds (all kinds when
// none are given) on a dedicated goroutine, until the returned func is
// called. fn may read the store. Events are dropped for a subscriber that
// falls too far behind; fn should re-read state rather than count events.
func (s *Store) Subscribe(fn func(events.Event), kinds ...events.Kind) func() {
	ch, cancel := s.hub.Subscribe(kinds...)
	go func() {
		for ev := range ch {
			fn(ev)
		}
	}()
	return cancel
}

func (s *Store) publishLocked(ev events.Event) {
	if ev.Kind == events.KindActions {
		s.published = s.ledger.GetAll()
	}
	s.hub.Publish(ev)
}
