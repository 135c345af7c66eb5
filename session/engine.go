// Package session decides whether a tab is logged in and keeps that answer
// consistent across the tabs of a browser profile.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jmcleod/sessionsync/bus"
	"github.com/jmcleod/sessionsync/exchange"
	"github.com/jmcleod/sessionsync/internal/uuid"
)

// State is the engine's answer to "is this tab logged in".
type State int

const (
	StateUnknown State = iota
	StateUnauthenticated
	StateAuthenticating
	StateAuthenticated
	StateExpiring
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateExpiring:
		return "expiring"
	default:
		return "invalid"
	}
}

// DefaultLoginPath is where unauthenticated tabs are sent.
const DefaultLoginPath = "/login"

// MessageLoginCancelled is the outcome detail of a login that was still in
// flight when the session was torn down.
const MessageLoginCancelled = "Login cancelled"

// Navigator moves the tab to another view. A hard navigation reloads the
// document and discards in-memory state.
type Navigator interface {
	Navigate(target string, hard bool)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target string, hard bool)

func (f NavigatorFunc) Navigate(target string, hard bool) { f(target, hard) }

// Exchanger performs credential exchanges. *exchange.Client implements it.
type Exchanger interface {
	ExchangePassword(ctx context.Context, identifier, secret string) exchange.Outcome
	ExchangeOAuthToken(ctx context.Context, token string) exchange.Outcome
	PasswordTimeout() time.Duration
}

// PendingExchange describes a login in flight. TimeoutAt is zero when the
// exchange has no client-side deadline.
type PendingExchange struct {
	ID        string
	Method    exchange.Method
	StartedAt time.Time
	TimeoutAt time.Time

	cancel  context.CancelFunc
	aborted bool
}

// Engine owns one tab's session state.
type Engine struct {
	store     *CredentialStore
	bus       *bus.Bus
	client    Exchanger
	nav       Navigator
	logger    *slog.Logger
	loginPath string

	mu       sync.Mutex
	state    State
	pending  *PendingExchange
	inflight map[string]*PendingExchange
	subs     map[int]func(State)
	hooks    map[int]func(from, to State)
	nextID   int
	mounted  bool
	unmounts []func()

	// refreshMu orders storage reads with the transitions they produce.
	refreshMu sync.Mutex
	// sessionMu orders a late login write against a teardown.
	sessionMu sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNavigator sets where navigation requests go. The default discards them.
func WithNavigator(nav Navigator) EngineOption {
	return func(e *Engine) {
		e.nav = nav
	}
}

// WithLoginPath overrides DefaultLoginPath.
func WithLoginPath(path string) EngineOption {
	return func(e *Engine) {
		e.loginPath = path
	}
}

// WithEngineLogger sets the structured logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine in StateUnknown. Call Mount to resolve it.
func NewEngine(store *CredentialStore, b *bus.Bus, client Exchanger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		bus:       b,
		client:    client,
		nav:       NavigatorFunc(func(string, bool) {}),
		logger:    slog.Default(),
		loginPath: DefaultLoginPath,
		inflight:  make(map[string]*PendingExchange),
		subs:      make(map[int]func(State)),
		hooks:     make(map[int]func(from, to State)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "session")
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Pending returns the exchange in flight, or nil.
func (e *Engine) Pending() *PendingExchange {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil
	}
	p := *e.pending
	p.cancel = nil
	return &p
}

// Subscribe registers fn for every state change. fn runs on the goroutine
// that caused the change, after the engine lock is released, and may call
// back into the engine.
func (e *Engine) Subscribe(fn func(State)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// observe registers fn for every transition. Observers run before subscribers.
func (e *Engine) observe(fn func(from, to State)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.hooks[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.hooks, id)
		e.mu.Unlock()
	}
}

// Mount resolves the initial state from local storage and starts listening
// for cross-tab changes, focus regain and refresh broadcasts.
func (e *Engine) Mount() State {
	e.mu.Lock()
	already := e.mounted
	e.mounted = true
	e.mu.Unlock()
	if already {
		return e.State()
	}

	refresh := func() { e.RefreshAuthState() }
	unmounts := []func(){
		e.bus.OnExternalChange(func(string) { refresh() }),
		e.bus.OnFocusRegained(refresh),
		e.bus.OnBroadcast(bus.AuthRefresh, func(bus.Signal) { refresh() }),
	}
	e.mu.Lock()
	e.unmounts = unmounts
	e.mu.Unlock()

	return e.RefreshAuthState()
}

// Unmount stops listening to the bus.
func (e *Engine) Unmount() {
	e.mu.Lock()
	unmounts := e.unmounts
	e.unmounts = nil
	e.mounted = false
	e.mu.Unlock()
	for _, fn := range unmounts {
		fn()
	}
}

// computeVerdict is the single rule for "logged in": a token, or the flag.
// A present token wins over a missing flag.
func (e *Engine) computeVerdict() bool {
	if _, ok := e.store.ReadToken(); ok {
		return true
	}
	return e.store.ReadAuthenticatedFlag()
}

func verdictState(authenticated bool) State {
	if authenticated {
		return StateAuthenticated
	}
	return StateUnauthenticated
}

// RefreshAuthState recomputes the state from storage and emits only if it
// changed. Every call reads storage itself, and a read is applied before any
// later read, so the last refresh to return reflects the latest write. A
// login or teardown in progress owns the state and is left alone.
func (e *Engine) RefreshAuthState() State {
	e.refreshMu.Lock()
	next := verdictState(e.computeVerdict())
	state, notify := e.apply(func(cur State) (State, bool) {
		if cur == StateAuthenticating || cur == StateExpiring {
			return cur, false
		}
		return next, true
	})
	e.refreshMu.Unlock()

	notify()
	return state
}

// transition applies decide to the current state under the lock and notifies
// observers and subscribers when the state changed. It returns the new state.
func (e *Engine) transition(decide func(cur State) (State, bool)) State {
	state, notify := e.apply(decide)
	notify()
	return state
}

// apply changes the state under the lock. The returned func delivers the
// change and must be called with no engine lock held.
func (e *Engine) apply(decide func(cur State) (State, bool)) (State, func()) {
	e.mu.Lock()
	prev := e.state
	next, ok := decide(prev)
	if !ok || next == prev {
		e.mu.Unlock()
		return prev, func() {}
	}
	e.state = next
	hooks := ordered(e.hooks)
	subs := ordered(e.subs)
	e.mu.Unlock()

	return next, func() {
		e.logger.Debug("state changed", "from", prev.String(), "to", next.String())
		for _, h := range hooks {
			h(prev, next)
		}
		for _, s := range subs {
			s(next)
		}
	}
}

func (e *Engine) set(next State) State {
	return e.transition(func(State) (State, bool) { return next, true })
}

// Login exchanges a password for a token. On success the session is written
// and the state becomes Authenticated; on failure storage is untouched and
// the outcome is returned for display.
func (e *Engine) Login(ctx context.Context, identifier, secret string) exchange.Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := e.begin(exchange.MethodPassword, e.client.PasswordTimeout(), cancel)
	return e.finish(p, e.client.ExchangePassword(ctx, identifier, secret))
}

// LoginWithGoogle exchanges a provider-issued token (popup flow).
func (e *Engine) LoginWithGoogle(ctx context.Context, providerToken string) exchange.Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := e.begin(exchange.MethodOAuthImplicitToken, 0, cancel)
	return e.finish(p, e.client.ExchangeOAuthToken(ctx, providerToken))
}

func (e *Engine) begin(method exchange.Method, timeout time.Duration, cancel context.CancelFunc) *PendingExchange {
	now := time.Now()
	p := &PendingExchange{
		ID:        uuid.New(),
		Method:    method,
		StartedAt: now,
		cancel:    cancel,
	}
	if timeout > 0 {
		p.TimeoutAt = now.Add(timeout)
	}
	e.mu.Lock()
	e.pending = p
	e.inflight[p.ID] = p
	e.mu.Unlock()

	e.set(StateAuthenticating)
	return p
}

func (e *Engine) finish(p *PendingExchange, out exchange.Outcome) exchange.Outcome {
	log := e.logger.With("exchange_id", p.ID, "method", string(p.Method))

	e.sessionMu.Lock()
	e.mu.Lock()
	aborted := p.aborted
	e.mu.Unlock()
	if !aborted && out.OK() {
		if err := e.store.WriteToken(out.Token); err != nil {
			log.Error("persisting session", "error", err)
			out = exchange.Outcome{Kind: exchange.OutcomeTransportError, Detail: "Could not save the session. Please try again."}
		}
	}
	e.sessionMu.Unlock()
	verdict := verdictState(e.computeVerdict())

	e.transition(func(cur State) (State, bool) {
		delete(e.inflight, p.ID)
		if e.pending == p {
			e.pending = nil
		}
		switch {
		case p.aborted:
			// Torn down while the exchange ran. A late token must not bring
			// the session back.
			aborted = true
			return cur, false
		case out.OK():
			return StateAuthenticated, true
		case e.pending != nil:
			// A newer exchange owns the pending slot.
			return cur, false
		default:
			return verdict, true
		}
	})

	switch {
	case aborted:
		log.Info("login discarded after teardown", "outcome", out.Kind.String())
		return exchange.Outcome{Kind: exchange.OutcomeTransportError, Detail: MessageLoginCancelled}
	case out.OK():
		log.Info("login succeeded", "elapsed", time.Since(p.StartedAt))
	default:
		log.Info("login failed", "outcome", out.Kind.String(), "status", out.Status, "timeout", out.Timeout())
	}
	return out
}

// AdoptToken installs a token handed over by the redirect bootstrap document
// and asks same-tab listeners to re-evaluate.
func (e *Engine) AdoptToken(token string) error {
	if err := e.store.WriteToken(token); err != nil {
		return err
	}
	e.bus.Broadcast(bus.AuthRefresh, nil)
	return nil
}

// Expire handles a 401 from an authenticated request: the session is torn
// down and the tab is silently sent to the login view.
func (e *Engine) Expire() {
	proceed := false
	e.transition(func(cur State) (State, bool) {
		if cur == StateExpiring {
			return cur, false
		}
		proceed = true
		if cur == StateAuthenticated {
			return StateExpiring, true
		}
		return cur, false
	})
	if !proceed {
		return
	}
	e.logger.Info("session expired")
	e.teardown()
	e.nav.Navigate(e.loginPath, false)
}

// Logout tears the session down and reloads the tab at the login view.
func (e *Engine) Logout() {
	e.logger.Info("logout")
	e.teardown()
	e.nav.Navigate(e.loginPath, true)
}

// RequireAuth guards entry to an authenticated view. Without a token the
// session is destroyed and the tab is sent to the login view.
func (e *Engine) RequireAuth() bool {
	if _, ok := e.store.ReadToken(); ok {
		e.RefreshAuthState()
		return true
	}
	e.logger.Info("authenticated view entered without token")
	if err := e.store.Clear(); err != nil {
		e.logger.Error("clearing credential store", "error", err)
	}
	e.set(StateUnauthenticated)
	e.nav.Navigate(e.loginPath, false)
	return false
}

func (e *Engine) teardown() {
	e.sessionMu.Lock()
	e.mu.Lock()
	for id, p := range e.inflight {
		p.aborted = true
		p.cancel()
		delete(e.inflight, id)
	}
	e.pending = nil
	e.mu.Unlock()
	if err := e.store.Clear(); err != nil {
		e.logger.Error("clearing credential store", "error", err)
	}
	e.sessionMu.Unlock()
	e.bus.Broadcast(bus.VoiceRemoved, nil)
	e.set(StateUnauthenticated)
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
