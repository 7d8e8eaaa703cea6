package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// StateBackend persists the store snapshot as an opaque JSON blob. Load
// returns nil data when no snapshot exists yet.
type StateBackend interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Close() error
}

type MemoryStateBackend struct {
	mu       sync.Mutex
	snapshot []byte
}

func NewMemoryStateBackend() *MemoryStateBackend {
	return &MemoryStateBackend{}
}

func (b *MemoryStateBackend) Load(context.Context) ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	return append([]byte(nil), b.snapshot...), nil
}

func (b *MemoryStateBackend) Save(_ context.Context, data []byte) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = append([]byte(nil), data...)
	return nil
}

func (b *MemoryStateBackend) Close() error { return nil }

// JSONFileStateBackend keeps the snapshot in a single JSON file, written via
// a temp file and rename so a crash never leaves a torn snapshot.
type JSONFileStateBackend struct {
	Path string
	mu   sync.Mutex
}

func NewJSONFileStateBackend(path string) *JSONFileStateBackend {
	return &JSONFileStateBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileStateBackend) Load(context.Context) ([]byte, error) {
	if b == nil || b.Path == "" {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *JSONFileStateBackend) Save(_ context.Context, data []byte) error {
	if b == nil || b.Path == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	dir := filepath.Dir(b.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(b.Path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, b.Path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (b *JSONFileStateBackend) Close() error { return nil }
