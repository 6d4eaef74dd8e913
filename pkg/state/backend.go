package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Backend persists one snapshot mapping. Key and value types are chosen
// by the state machine, not the backend.
type Backend interface {
	// Save replaces the stored snapshot.
	Save(data map[string]any) error
	// Load returns the stored snapshot, or nil when none exists.
	Load() (map[string]any, error)
	// Backup copies the current snapshot aside.
	Backup() error
}

// JSONFileBackend stores the snapshot as one JSON document on disk.
// Saves go through a temp file and rename so readers never observe a
// torn write.
type JSONFileBackend struct {
	mu   sync.Mutex
	path string
}

// NewJSONFileBackend creates a backend rooted at path. Parent
// directories are created on first save.
func NewJSONFileBackend(path string) *JSONFileBackend {
	return &JSONFileBackend{path: path}
}

func (b *JSONFileBackend) Save(data map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("state: create snapshot dir: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("state: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("state: publish snapshot: %w", err)
	}
	return nil
}

func (b *JSONFileBackend) Load() (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read snapshot: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("state: decode snapshot: %w", err)
	}
	return data, nil
}

// Backup copies the snapshot to <path>.bak. A missing snapshot is not
// an error.
func (b *JSONFileBackend) Backup() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	src, err := os.Open(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("state: open snapshot: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(b.path + ".bak")
	if err != nil {
		return fmt.Errorf("state: create backup: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("state: copy backup: %w", err)
	}
	return dst.Close()
}
