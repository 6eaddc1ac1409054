package actionlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/workbench/internal/devpod"
)

const logExt = ".log"

// ErrNotFound is returned by Read for an action without a log.
var ErrNotFound = errors.New("action log not found")

// fsManager stores one file per action under baseDir.
type fsManager struct {
	baseDir string
	now     func() time.Time
}

var _ Manager = (*fsManager)(nil)

// NewFSManager creates a filesystem-backed log manager rooted at baseDir.
func NewFSManager(baseDir string) (*fsManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("action log directory is empty")
	}
	return &fsManager{baseDir: filepath.Clean(trimmed), now: time.Now}, nil
}

// Create opens (creating if needed) the log for actionID in append mode.
func (m *fsManager) Create(actionID string) (*Writer, error) {
	path, err := m.logPath(actionID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create action log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log for action %q: %w", actionID, err)
	}
	return &Writer{f: f, enc: json.NewEncoder(f)}, nil
}

func (m *fsManager) Read(ctx context.Context, actionID string) ([]devpod.Event, error) {
	path, err := m.logPath(actionID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, actionID)
	}
	if err != nil {
		return nil, fmt.Errorf("open log for action %q: %w", actionID, err)
	}
	defer f.Close()

	events := []devpod.Event{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var ev devpod.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			// A torn trailing line from a crash is skipped.
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log for action %q: %w", actionID, err)
	}
	return events, nil
}

func (m *fsManager) Remove(actionIDs ...string) error {
	var errs []error
	for _, id := range actionIDs {
		path, err := m.logPath(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove log for action %q: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Cleanup removes log files whose modification time is older than olderThan.
func (m *fsManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if errors.Is(err, os.ErrNotExist) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read action log directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.Type().IsRegular() || filepath.Ext(entry.Name()) != logExt {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read log entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.baseDir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return report, fmt.Errorf("remove log %q: %w", entry.Name(), err)
		}
		report.DeletedFiles++
	}
	return report, nil
}

func (m *fsManager) logPath(actionID string) (string, error) {
	if err := validateActionID(actionID); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, actionID+logExt), nil
}

func validateActionID(id string) error {
	trimmed := strings.TrimSpace(id)
	switch {
	case trimmed == "":
		return fmt.Errorf("action id is empty")
	case trimmed != id, trimmed == ".", trimmed == "..":
		return fmt.Errorf("action id %q is invalid", id)
	case strings.ContainsAny(trimmed, `/\`):
		return fmt.Errorf("action id %q must not contain path separators", id)
	}
	return nil
}

// Writer appends events to one action log. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
	err error
}

var _ devpod.Sink = (*Writer)(nil)

// Emit appends ev as one JSON line. The first write error is kept and later
// events are dropped.
func (w *Writer) Emit(ev devpod.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil || w.f == nil {
		return
	}
	w.err = w.enc.Encode(ev)
}

// Err returns the first write error.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
