// Package action models long-running workspace operations and the durable
// ledger of the ones that finished.
package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/workbench/internal/workspace"
)

// Name identifies the kind of operation an action performs.
type Name string

const (
	NameCreate  Name = "create"
	NameStart   Name = "start"
	NameStop    Name = "stop"
	NameRebuild Name = "rebuild"
	NameReset   Name = "reset"
	NameRemove  Name = "remove"
)

// Valid reports whether n is a known action name.
func (n Name) Valid() bool {
	switch n {
	case NameCreate, NameStart, NameStop, NameRebuild, NameReset, NameRemove:
		return true
	}
	return false
}

// Status is the lifecycle state of an action.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// Info identifies the action a Func is running for.
type Info struct {
	ID          string
	Name        Name
	WorkspaceID string
}

// Func is the work bound to an action. The returned status, when not
// empty, is the workspace status observed once the work finished.
type Func func(ctx context.Context, info Info) (workspace.Status, error)

// Action is a single asynchronous operation bound to one workspace. It
// reaches exactly one terminal state; later transitions are ignored.
type Action struct {
	id          string
	name        Name
	workspaceID string
	createdAt   time.Time
	fn          Func

	runOnce sync.Once
	done    chan struct{}

	mu         sync.Mutex
	status     Status
	err        error
	result     workspace.Status
	finishedAt time.Time
	listeners  []func(*Action)
	cancel     context.CancelFunc

	now func() time.Time
}

// New creates a pending action. The work does not start until Run.
func New(name Name, workspaceID string, fn Func) *Action {
	now := time.Now
	return &Action{
		id:          uuid.NewString(),
		name:        name,
		workspaceID: workspaceID,
		createdAt:   now().UTC(),
		fn:          fn,
		done:        make(chan struct{}),
		status:      StatusPending,
		now:         now,
	}
}

func (a *Action) ID() string { return a.id }

func (a *Action) Name() Name { return a.name }

func (a *Action) WorkspaceID() string { return a.workspaceID }

func (a *Action) CreatedAt() time.Time { return a.createdAt }

// Status returns the current lifecycle state.
func (a *Action) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Err returns the error the work failed with, verbatim.
func (a *Action) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Result returns the workspace status reported by a successful run.
func (a *Action) Result() workspace.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

// FinishedAt returns the terminal transition time, zero while pending.
func (a *Action) FinishedAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finishedAt
}

// Done is closed once the action reaches a terminal state.
func (a *Action) Done() <-chan struct{} {
	return a.done
}

// Run invokes the bound work at most once and blocks until it returns. The
// context handed to the work is cancelled by Cancel. If the action was
// cancelled before Run, the work is not invoked.
func (a *Action) Run(ctx context.Context) {
	a.runOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		a.mu.Lock()
		if a.status.Terminal() {
			a.mu.Unlock()
			return
		}
		a.cancel = cancel
		a.mu.Unlock()

		result, err := a.invoke(ctx)
		if err != nil {
			a.finish(StatusError, err, "")
			return
		}
		a.finish(StatusSuccess, nil, result)
	})
}

func (a *Action) invoke(ctx context.Context) (result workspace.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", a.name, r)
		}
	}()
	return a.fn(ctx, Info{ID: a.id, Name: a.name, WorkspaceID: a.workspaceID})
}

// Cancel moves a pending action to cancelled, drops its listeners without
// notifying them, and cancels the context of running work. It is a no-op
// on a terminal action.
func (a *Action) Cancel() {
	a.mu.Lock()
	if a.status.Terminal() {
		a.mu.Unlock()
		return
	}
	a.status = StatusCancelled
	a.finishedAt = a.now().UTC()
	a.listeners = nil
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(a.done)
}

// Once registers fn to run on the first terminal transition reached by Run.
// Registering on an action that is already terminal does nothing.
func (a *Action) Once(fn func(*Action)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status.Terminal() {
		return
	}
	a.listeners = append(a.listeners, fn)
}

func (a *Action) finish(status Status, err error, result workspace.Status) {
	a.mu.Lock()
	if a.status.Terminal() {
		a.mu.Unlock()
		return
	}
	a.status = status
	a.err = err
	a.result = result
	a.finishedAt = a.now().UTC()
	listeners := a.listeners
	a.listeners = nil
	a.mu.Unlock()

	close(a.done)
	for _, fn := range listeners {
		fn(a)
	}
}

// Record returns a plain-data copy of the action.
func (a *Action) Record() Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := Record{
		ID:          a.id,
		Name:        a.name,
		WorkspaceID: a.workspaceID,
		Status:      a.status,
		CreatedAt:   a.createdAt,
	}
	if a.err != nil {
		r.Error = a.err.Error()
	}
	if !a.finishedAt.IsZero() {
		finished := a.finishedAt
		r.FinishedAt = &finished
	}
	return r
}
