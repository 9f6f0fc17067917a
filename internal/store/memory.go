package store

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process RawBackend used in tests and as the default
// when no persistent backend is configured.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string][]byte)}
}

func (b *MemoryBackend) RawGet(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, data...), true, nil
}

func (b *MemoryBackend) RawSet(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[key] = append([]byte{}, data...)
	return nil
}

func (b *MemoryBackend) RawRemove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, key)
	return nil
}

func (b *MemoryBackend) RawKeys(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.items))
	for k := range b.items {
		keys = append(keys, k)
	}
	return keys, nil
}

// RawUpdate implements AtomicUpdater under the backend's own lock.
func (b *MemoryBackend) RawUpdate(_ context.Context, key string, fn func(data []byte, ok bool) ([]byte, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.items[key]
	next, err := fn(append([]byte{}, data...), ok)
	if err != nil {
		return err
	}
	b.items[key] = append([]byte{}, next...)
	return nil
}
