package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// MemoryTarget keeps saved state in memory. Useful for testing and
// development.
type MemoryTarget struct {
	mu    sync.RWMutex
	data  []byte
	saves int
}

// NewMemoryTarget creates an empty in-memory target.
func NewMemoryTarget() *MemoryTarget {
	return &MemoryTarget{}
}

// Load returns a copy of the last saved state.
func (m *MemoryTarget) Load(_ context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.data), nil
}

// Save replaces the saved state.
func (m *MemoryTarget) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = slices.Clone(data)
	m.saves++

	return nil
}

// Saves returns how many times Save was called.
func (m *MemoryTarget) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.saves
}

// FileTarget keeps saved state in a single file. Saves write a temporary
// file next to the target and rename it into place.
type FileTarget struct {
	path string
	mu   sync.Mutex
}

// NewFileTarget creates a target backed by path.
func NewFileTarget(path string) *FileTarget {
	return &FileTarget{path: path}
}

// Path returns the file the target writes to.
func (f *FileTarget) Path() string {
	return f.path
}

// Load reads the file. A missing file is not an error.
func (f *FileTarget) Load(_ context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	return data, err
}

// Save atomically replaces the file contents.
func (f *FileTarget) Save(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}

	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()

		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), f.path)
}

// Ensure targets implement Target.
var (
	_ Target = (*MemoryTarget)(nil)
	_ Target = (*FileTarget)(nil)
)
