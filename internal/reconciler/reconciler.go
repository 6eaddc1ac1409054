// Package reconciler keeps the store in step with the CLI by polling the
// workspace list and each workspace's status on fixed intervals.
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultListInterval   = time.Second
	DefaultStatusInterval = time.Second
)

// Config holds the poll intervals. Zero values fall back to the defaults.
type Config struct {
	ListInterval   time.Duration
	StatusInterval time.Duration
}

// Reconciler runs the list and status loops. Both are level-triggered: a
// tick that finds the previous fetch still running is skipped, never queued.
type Reconciler struct {
	source Source
	target Target
	cfg    Config
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	fetches  sync.WaitGroup

	listBusy atomic.Bool

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a Reconciler feeding target from source.
func New(source Source, target Target, cfg Config, logger *slog.Logger) *Reconciler {
	if cfg.ListInterval <= 0 {
		cfg.ListInterval = DefaultListInterval
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		source:   source,
		target:   target,
		cfg:      cfg,
		logger:   logger.With("component", "reconciler"),
		stopCh:   make(chan struct{}),
		inFlight: make(map[string]struct{}),
	}
}

// Start launches both loops. Each runs one pass immediately.
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("Starting reconciler",
		"list_interval", r.cfg.ListInterval,
		"status_interval", r.cfg.StatusInterval,
	)
	r.wg.Add(2)
	go r.loop(ctx, r.cfg.ListInterval, r.listTick)
	go r.loop(ctx, r.cfg.StatusInterval, r.statusTick)
}

// Stop ends both loops and waits for outstanding fetches.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("Stopping reconciler")
		close(r.stopCh)
	})
	r.wg.Wait()
	r.fetches.Wait()
}

func (r *Reconciler) loop(ctx context.Context, every time.Duration, tick func(context.Context)) {
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	tick(ctx)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// listTick fetches the list and hands it to the target. Failures are skipped.
func (r *Reconciler) listTick(ctx context.Context) {
	if !r.listBusy.CompareAndSwap(false, true) {
		return
	}
	defer r.listBusy.Store(false)

	list, err := r.source.ListWorkspaces(ctx)
	if err != nil {
		r.logger.Debug("list fetch failed, skipping tick", "error", err)
		return
	}
	if r.target.SetWorkspaces(list) {
		r.logger.Debug("workspace list changed", "count", len(list))
	}
}

// statusTick starts a status fetch for every known workspace that has none
// in flight and no active action.
func (r *Reconciler) statusTick(ctx context.Context) {
	for _, w := range r.target.GetAll() {
		if r.target.HasActiveAction(w.ID) || !r.claim(w.ID) {
			continue
		}
		r.fetches.Add(1)
		go func(id string) {
			defer r.fetches.Done()
			defer r.release(id)
			r.fetchStatus(ctx, id)
		}(w.ID)
	}
}

func (r *Reconciler) fetchStatus(ctx context.Context, id string) {
	status, err := r.source.WorkspaceStatus(ctx, id)
	if err != nil {
		r.logger.Debug("status fetch failed", "workspace_id", id, "error", err)
		return
	}
	// An action may have started while the fetch ran; its result wins.
	if r.target.HasActiveAction(id) {
		return
	}
	if r.target.SetStatus(id, status) {
		r.logger.Debug("workspace status changed", "workspace_id", id, "status", status)
	}
}

func (r *Reconciler) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[id]; busy {
		return false
	}
	r.inFlight[id] = struct{}{}
	return true
}

func (r *Reconciler) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, id)
}
