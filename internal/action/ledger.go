package action

import (
	"cmp"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const (
	// DefaultHistoryCap bounds the number of archived records kept.
	DefaultHistoryCap = 50

	// HistoryKey is the persistence key the history is stored under.
	HistoryKey = "action_history"
)

// Record is the plain-data form of an action. History entries are records
// of terminal actions; active actions are projected to records for readers.
// The JSON shape is a flat object so persisted histories stay readable by
// older clients.
type Record struct {
	ID          string     `json:"id"`
	Name        Name       `json:"name"`
	WorkspaceID string     `json:"targetID"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// Snapshot is the ledger content at one point in time.
type Snapshot struct {
	Active  []Record `json:"active"`
	History []Record `json:"history"`
}

// Persister is the synchronous key/value surface the ledger is stored in.
type Persister interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// Ledger tracks the active action per workspace and keeps a bounded,
// durable, oldest-first history of finished ones.
type Ledger struct {
	persister Persister
	capacity  int
	logger    *slog.Logger
	onEvict   func([]Record)

	mu      sync.Mutex
	active  map[string]*Action
	history []Record
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithCapacity overrides DefaultHistoryCap. Non-positive values are ignored.
func WithCapacity(n int) LedgerOption {
	return func(l *Ledger) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithLogger sets the ledger logger.
func WithLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithEvictHook registers fn to receive records dropped by the cap. It runs
// with the ledger lock held and must not call back into the ledger.
func WithEvictHook(fn func([]Record)) LedgerOption {
	return func(l *Ledger) { l.onEvict = fn }
}

// NewLedger creates a ledger and loads the persisted history. A missing or
// unreadable blob yields an empty history.
func NewLedger(p Persister, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		persister: p,
		capacity:  DefaultHistoryCap,
		logger:    slog.Default(),
		active:    make(map[string]*Action),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")
	l.history = l.load()
	return l
}

func (l *Ledger) load() []Record {
	if l.persister == nil {
		return nil
	}
	raw, ok, err := l.persister.Get(HistoryKey)
	if err != nil {
		l.logger.Warn("failed to read action history, starting empty", "error", err)
		return nil
	}
	if !ok || raw == "" {
		return nil
	}

	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		l.logger.Warn("action history is corrupt, starting empty", "error", err)
		return nil
	}
	if over := len(records) - l.capacity; over > 0 {
		records = records[over:]
	}
	return records
}

func (l *Ledger) persistLocked() {
	if l.persister == nil {
		return
	}
	history := l.history
	if history == nil {
		history = []Record{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		l.logger.Error("failed to encode action history", "error", err)
		return
	}
	if err := l.persister.Set(HistoryKey, string(data)); err != nil {
		l.logger.Error("failed to persist action history", "error", err)
	}
}

// AddActive registers a as the active action for its workspace, replacing
// any previous registration. Callers archive the previous action first.
func (l *Ledger) AddActive(a *Action) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[a.WorkspaceID()] = a
}

// GetActive returns the live active action for workspaceID, or nil.
func (l *Ledger) GetActive(workspaceID string) *Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[workspaceID]
}

// GetAllActive returns the live active actions, oldest first.
func (l *Ledger) GetAllActive() []*Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sortedActiveLocked()
}

func (l *Ledger) sortedActiveLocked() []*Action {
	out := make([]*Action, 0, len(l.active))
	for _, a := range l.active {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b *Action) int {
		if c := a.CreatedAt().Compare(b.CreatedAt()); c != 0 {
			return c
		}
		return cmp.Compare(a.WorkspaceID(), b.WorkspaceID())
	})
	return out
}

// Archive moves a terminal action out of active tracking and appends its
// record to the history, evicting the oldest records beyond the cap, then
// persists the full history. It reports whether a was the registered active
// action; archiving anything else (a pending action, an action already
// archived or superseded) is a no-op.
func (l *Ledger) Archive(a *Action) bool {
	if !a.Status().Terminal() {
		l.logger.Warn("refusing to archive pending action", "action_id", a.ID(), "workspace_id", a.WorkspaceID())
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.active[a.WorkspaceID()]; !ok || cur != a {
		return false
	}
	delete(l.active, a.WorkspaceID())

	l.history = append(l.history, a.Record())
	if over := len(l.history) - l.capacity; over > 0 {
		evicted := slices.Clone(l.history[:over])
		l.history = slices.Clone(l.history[over:])
		if l.onEvict != nil {
			l.onEvict(evicted)
		}
	}
	l.persistLocked()
	return true
}

// History returns a copy of the archived records, oldest first.
func (l *Ledger) History() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.history)
}

// GetAll returns the active actions projected to records and the history.
func (l *Ledger) GetAll() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	active := l.sortedActiveLocked()
	snap := Snapshot{
		Active:  make([]Record, 0, len(active)),
		History: slices.Clone(l.history),
	}
	if snap.History == nil {
		snap.History = []Record{}
	}
	for _, a := range active {
		snap.Active = append(snap.Active, a.Record())
	}
	return snap
}
