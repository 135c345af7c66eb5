// Package bus carries the signals a tab reacts to: storage mutations made by
// other tabs of the same profile, focus regain, and same-tab broadcasts.
package bus

import (
	"sort"
	"sync"
)

// Kind names a same-tab broadcast.
type Kind string

const (
	VoiceUploaded Kind = "voiceUploaded"
	VoiceRemoved  Kind = "voiceRemoved"
	AuthRefresh   Kind = "authRefresh"
)

// Signal is a single broadcast. Signals are never persisted.
type Signal struct {
	Kind    Kind
	Payload any
}

// Bus is the per-tab signal bus. The zero value is not usable; use New.
type Bus struct {
	mu        sync.Mutex
	nextID    int
	external  map[int]func(key string)
	focus     map[int]func()
	broadcast map[Kind]map[int]func(Signal)

	pending []string
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// New creates a Bus and starts its external-change delivery loop.
func New() *Bus {
	b := &Bus{
		external:  make(map[int]func(string)),
		focus:     make(map[int]func()),
		broadcast: make(map[Kind]map[int]func(Signal)),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go b.run()
	return b
}

// Close stops external-change delivery. Pending changes are dropped.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.done) })
}

// OnExternalChange registers handler for storage mutations made by another
// tab. key is empty when the changed key is unknown.
func (b *Bus) OnExternalChange(handler func(key string)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.external[id] = handler
	return func() {
		b.mu.Lock()
		delete(b.external, id)
		b.mu.Unlock()
	}
}

// OnFocusRegained registers handler for the tab becoming visible again.
func (b *Bus) OnFocusRegained(handler func()) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.focus[id] = handler
	return func() {
		b.mu.Lock()
		delete(b.focus, id)
		b.mu.Unlock()
	}
}

// OnBroadcast registers handler for broadcasts of kind in this tab.
func (b *Bus) OnBroadcast(kind Kind, handler func(Signal)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.broadcast[kind] == nil {
		b.broadcast[kind] = make(map[int]func(Signal))
	}
	b.broadcast[kind][id] = handler
	return func() {
		b.mu.Lock()
		delete(b.broadcast[kind], id)
		b.mu.Unlock()
	}
}

// Broadcast delivers a signal synchronously to this tab's listeners, in
// registration order.
func (b *Bus) Broadcast(kind Kind, payload any) {
	b.mu.Lock()
	handlers := ordered(b.broadcast[kind])
	b.mu.Unlock()

	sig := Signal{Kind: kind, Payload: payload}
	for _, h := range handlers {
		h(sig)
	}
}

// FocusRegained notifies focus listeners synchronously.
func (b *Bus) FocusRegained() {
	b.mu.Lock()
	handlers := ordered(b.focus)
	b.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}

// DeliverExternalChange queues an external storage change for this tab.
// It never blocks; listeners run on the bus's own goroutine.
func (b *Bus) DeliverExternalChange(key string) {
	select {
	case <-b.done:
		return
	default:
	}

	b.mu.Lock()
	b.pending = append(b.pending, key)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bus) run() {
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}

		b.mu.Lock()
		keys := b.pending
		b.pending = nil
		handlers := ordered(b.external)
		b.mu.Unlock()

		for _, key := range keys {
			for _, h := range handlers {
				h(key)
			}
		}
	}
}

func ordered[F any](m map[int]F) []F {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]F, len(ids))
	for i, id := range ids {
		out[i] = m[id]
	}
	return out
}
