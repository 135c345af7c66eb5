package session

import (
	"log/slog"
	"sync"

	"github.com/jmcleod/sessionsync/bus"
)

// Invalidator drops state that depends on the session. On logout, expiry or
// an explicit voice removal it clears the voice reference first and only
// then runs its handlers, so no handler can observe a stale reference.
// Handlers may run more than once for one teardown and must be idempotent.
type Invalidator struct {
	store  *CredentialStore
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[int]func()
	nextID   int
	cancels  []func()
}

// NewInvalidator wires an Invalidator to engine transitions and to
// voiceRemoved broadcasts on b.
func NewInvalidator(engine *Engine, b *bus.Bus, store *CredentialStore, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	inv := &Invalidator{
		store:    store,
		logger:   logger.With("component", "invalidator"),
		handlers: make(map[int]func()),
	}
	inv.cancels = []func(){
		engine.observe(func(from, to State) {
			if to == StateUnauthenticated && (from == StateAuthenticated || from == StateExpiring) {
				inv.invalidate("logout")
			}
		}),
		b.OnBroadcast(bus.VoiceRemoved, func(bus.Signal) {
			inv.invalidate("voice_removed")
		}),
	}
	return inv
}

// OnLogoutOrRemoval registers handler.
func (inv *Invalidator) OnLogoutOrRemoval(handler func()) (cancel func()) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	id := inv.nextID
	inv.nextID++
	inv.handlers[id] = handler
	return func() {
		inv.mu.Lock()
		delete(inv.handlers, id)
		inv.mu.Unlock()
	}
}

// Close detaches the invalidator from the engine and bus.
func (inv *Invalidator) Close() {
	inv.mu.Lock()
	cancels := inv.cancels
	inv.cancels = nil
	inv.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

func (inv *Invalidator) invalidate(reason string) {
	if _, ok := inv.store.ReadVoice(); ok {
		if err := inv.store.ClearVoice(); err != nil {
			inv.logger.Error("clearing voice reference", "reason", reason, "error", err)
		}
	}

	inv.mu.Lock()
	handlers := ordered(inv.handlers)
	inv.mu.Unlock()

	inv.logger.Debug("invalidating dependent state", "reason", reason, "handlers", len(handlers))
	for _, h := range handlers {
		h()
	}
}
