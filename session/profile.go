package session

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/jmcleod/sessionsync/bus"
	"github.com/jmcleod/sessionsync/internal/uuid"
	"github.com/jmcleod/sessionsync/storage"
)

// Profile is one browser profile for one origin: durable storage, a cookie
// jar and the hub that links its tabs.
type Profile struct {
	origin  *url.URL
	backend storage.Backend
	jar     http.CookieJar
	hub     *bus.Hub
	client  Exchanger
	logger  *slog.Logger

	loginPath string
	transport http.RoundTripper
}

// ProfileOption configures a Profile.
type ProfileOption func(*Profile)

// WithCookieJar replaces the default in-memory jar, for example with a
// PersistentJar.
func WithCookieJar(jar http.CookieJar) ProfileOption {
	return func(p *Profile) {
		p.jar = jar
	}
}

// WithLogger sets the structured logger shared by the profile's tabs.
func WithLogger(logger *slog.Logger) ProfileOption {
	return func(p *Profile) {
		p.logger = logger
	}
}

// WithProfileLoginPath sets the login view used by every tab.
func WithProfileLoginPath(path string) ProfileOption {
	return func(p *Profile) {
		p.loginPath = path
	}
}

// WithBaseTransport sets the transport under each tab's authenticated client.
func WithBaseTransport(rt http.RoundTripper) ProfileOption {
	return func(p *Profile) {
		p.transport = rt
	}
}

// NewProfile creates a profile for origin.
func NewProfile(origin string, backend storage.Backend, client Exchanger, opts ...ProfileOption) (*Profile, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parsing origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute URL", origin)
	}
	u.Path = "/"

	p := &Profile{
		origin:    u,
		backend:   backend,
		hub:       bus.NewHub(),
		client:    client,
		loginPath: DefaultLoginPath,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if p.jar == nil {
		jar, err := NewCookieJar()
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		p.jar = jar
	}
	return p, nil
}

// Hub returns the profile's cross-tab hub.
func (p *Profile) Hub() *bus.Hub {
	return p.hub
}

// NotifyExternalChange reports a storage change made outside this process,
// for example by another process sharing a file backend.
func (p *Profile) NotifyExternalChange() {
	p.hub.Publish("", "")
}

// Tab is one browsing context of a profile.
type Tab struct {
	ID          string
	Bus         *bus.Bus
	Store       *CredentialStore
	Engine      *Engine
	Invalidator *Invalidator
	Voice       *VoiceSlot

	transport http.RoundTripper
	detach    func()
}

// OpenTab creates a tab, attaches it to the hub and mounts its engine.
func (p *Profile) OpenTab(nav Navigator) *Tab {
	id := uuid.New()
	logger := p.logger.With("tab", id)

	b := bus.New()
	store := NewCredentialStore(p.backend, NewCookieFlag(p.jar, p.origin), func(key string) {
		p.hub.Publish(id, key)
	}, logger)

	opts := []EngineOption{WithEngineLogger(logger), WithLoginPath(p.loginPath)}
	if nav != nil {
		opts = append(opts, WithNavigator(nav))
	}
	engine := NewEngine(store, b, p.client, opts...)

	t := &Tab{
		ID:          id,
		Bus:         b,
		Store:       store,
		Engine:      engine,
		Invalidator: NewInvalidator(engine, b, store, logger),
		Voice:       NewVoiceSlot(store, b, engine),
		transport:   p.transport,
	}
	t.detach = p.hub.Attach(id, b)
	engine.Mount()
	return t
}

// HTTPClient returns a client whose requests carry the tab's token and
// expire the session on 401.
func (t *Tab) HTTPClient() *http.Client {
	return &http.Client{
		Transport: &Transport{Base: t.transport, Store: t.Store, Engine: t.Engine},
		Timeout:   30 * time.Second,
	}
}

// Close detaches the tab from its profile.
func (t *Tab) Close() {
	t.Engine.Unmount()
	t.Invalidator.Close()
	t.detach()
	t.Bus.Close()
}
