package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/mattjoyce/workbench/internal/storage"
)

// FileKV stores all pairs as one JSON object in a file. Reads take a shared
// flock on a sibling ".lock" file and writes an exclusive one, so several
// workbench processes can share the same path.
type FileKV struct {
	path     string
	lockPath string
	mu       sync.Mutex
}

func NewFileKV(path string) *FileKV {
	return &FileKV{path: path, lockPath: path + ".lock"}
}

func (f *FileKV) Get(key string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := f.with(false, func(data map[string]string) (bool, error) {
		value, ok = data[key]
		return false, nil
	})
	return value, ok, err
}

func (f *FileKV) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("key is empty")
	}
	return f.with(true, func(data map[string]string) (bool, error) {
		data[key] = value
		return true, nil
	})
}

// with loads the file under lock and hands its content to fn. When fn
// reports a change the content is written back atomically.
func (f *FileKV) with(exclusive bool, fn func(map[string]string) (bool, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.lockPath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	fl := flock.New(f.lockPath)
	var err error
	if exclusive {
		err = fl.Lock()
	} else {
		err = fl.RLock()
	}
	if err != nil {
		return fmt.Errorf("lock %s: %w", f.lockPath, err)
	}
	defer func() { _ = fl.Close() }()

	data := map[string]string{}
	raw, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read %s: %w", f.path, err)
	case len(raw) > 0:
		if err := json.Unmarshal(raw, &data); err != nil {
			if !exclusive {
				return fmt.Errorf("parse %s: %w", f.path, err)
			}
			// A corrupt file is replaced by the next write.
			data = map[string]string{}
		}
	}

	changed, err := fn(data)
	if err != nil || !changed {
		return err
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.path, err)
	}
	return storage.AtomicWriteFile(f.path, append(out, '\n'), 0o644)
}
