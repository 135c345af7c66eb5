// Package file provides a JSON-file storage backend whose changes can be
// observed by other processes sharing the same profile directory.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jmcleod/sessionsync/storage"
)

const defaultDebounce = 50 * time.Millisecond

// Backend stores every key of a profile in a single JSON document. Writes
// replace the document atomically via rename.
type Backend struct {
	mu       sync.Mutex
	path     string
	debounce time.Duration
	logger   *slog.Logger

	// lastWritten is the digest of the document this process wrote last,
	// used to tell our own writes apart from foreign ones.
	lastWritten [sha256.Size]byte
}

var _ storage.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithDebounce sets how long Watch waits for further changes before notifying.
func WithDebounce(d time.Duration) Option {
	return func(b *Backend) {
		b.debounce = d
	}
}

// WithLogger sets the logger used by Watch.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// NewBackend opens (or creates) the JSON document at path.
func NewBackend(path string, opts ...Option) (*Backend, error) {
	b := &Backend{
		path:     path,
		debounce: defaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "file-storage")

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return b, nil
}

// Path returns the location of the backing document.
func (b *Backend) Path() string {
	return b.path
}

func (b *Backend) load() (map[string]string, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", b.path, err)
	}
	m := map[string]string{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", b.path, err)
	}
	return m, nil
}

func (b *Backend) save(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding storage document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".storage-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}

	b.lastWritten = sha256.Sum256(data)
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", b.path, err)
	}
	return nil
}

func (b *Backend) Get(key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.load()
	if err != nil {
		return "", err
	}
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return v, nil
}

func (b *Backend) Put(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.load()
	if err != nil {
		return err
	}
	m[key] = value
	return b.save(m)
}

func (b *Backend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	delete(m, key)
	return b.save(m)
}

func (b *Backend) Keys() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

type fileBatchTx struct {
	data map[string]string
}

func (tx *fileBatchTx) Put(key, value string) error {
	tx.data[key] = value
	return nil
}

func (tx *fileBatchTx) Delete(key string) error {
	delete(tx.data, key)
	return nil
}

// Batch applies fn to an in-memory copy and writes it back only if fn succeeds.
func (b *Backend) Batch(fn func(tx storage.BatchTx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.load()
	if err != nil {
		return err
	}
	if err := fn(&fileBatchTx{data: m}); err != nil {
		return err
	}
	return b.save(m)
}

// isForeign reports whether the current document differs from the one this
// process wrote last.
func (b *Backend) isForeign() bool {
	data, err := os.ReadFile(b.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return true
	}
	sum := sha256.Sum256(data)
	b.mu.Lock()
	defer b.mu.Unlock()
	return sum != b.lastWritten
}

// Watch reports changes made to the document by other processes. onChange is
// called from a single goroutine, debounced, until ctx is cancelled.
func (b *Backend) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// The directory is watched because every write replaces the file.
	if err := watcher.Add(filepath.Dir(b.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(b.path), err)
	}

	go b.processEvents(ctx, watcher, onChange)
	b.logger.Debug("watching storage document", "path", b.path)
	return nil
}

func (b *Backend) processEvents(ctx context.Context, watcher *fsnotify.Watcher, onChange func()) {
	defer watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	target := filepath.Clean(b.path)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(b.debounce)
			} else {
				timer.Reset(b.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if b.isForeign() {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("storage watcher error", "error", err)
		}
	}
}
