// Package memory provides a thread-safe in-memory implementation of storage.Backend.
package memory

import (
	"sort"
	"sync"

	"github.com/jmcleod/sessionsync/storage"
)

// Backend is a thread-safe in-memory implementation of storage.Backend.
// Suitable for testing, demos, and profiles whose tabs share one process.
type Backend struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ storage.Backend = (*Backend)(nil)

// NewBackend creates a new empty in-memory Backend.
func NewBackend() *Backend {
	return &Backend{data: make(map[string]string)}
}

func (b *Backend) Get(key string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (b *Backend) Put(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	return nil
}

func (b *Backend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[key]; !ok {
		return storage.ErrNotFound
	}
	delete(b.data, key)
	return nil
}

func (b *Backend) Keys() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (b *Backend) Batch(fn func(tx storage.BatchTx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := make(map[string]string, len(b.data))
	for k, v := range b.data {
		snapshot[k] = v
	}

	if err := fn(&memoryBatchTx{data: b.data}); err != nil {
		b.data = snapshot
		return err
	}
	return nil
}

type memoryBatchTx struct {
	data map[string]string
}

func (tx *memoryBatchTx) Put(key, value string) error {
	tx.data[key] = value
	return nil
}

func (tx *memoryBatchTx) Delete(key string) error {
	delete(tx.data, key)
	return nil
}
