// Package state holds the key/value backends the action ledger persists to.
package state

import (
	"context"
	"fmt"
	"io"
	"maps"
	"sync"

	"github.com/mattjoyce/workbench/internal/storage"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// KV is a synchronous string key/value store.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// Open returns the KV for backend rooted at path, and a closer for any
// resources it holds.
func Open(ctx context.Context, backend, path string) (KV, io.Closer, error) {
	switch backend {
	case BackendSQLite, "":
		db, err := storage.OpenSQLite(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLiteKV(db), db, nil
	case BackendFile:
		if err := storage.CheckLocalFilesystem(path); err != nil {
			return nil, nil, err
		}
		return NewFileKV(path), nopCloser{}, nil
	case BackendMemory:
		return NewMemoryKV(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", backend)
	}
}

// MemoryKV keeps values in process memory. It is used in tests and when
// history should not outlive the process.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Snapshot returns a copy of every stored pair.
func (m *MemoryKV) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.data)
}

var (
	_ KV = (*MemoryKV)(nil)
	_ KV = (*SQLiteKV)(nil)
	_ KV = (*FileKV)(nil)
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
