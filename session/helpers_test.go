package session

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionsync/exchange"
	"github.com/jmcleod/sessionsync/storage"
	"github.com/jmcleod/sessionsync/storage/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// identityServer is a minimal identity service: one account, a password
// login, a provider-token login, a user endpoint and a protected endpoint.
type identityServer struct {
	*httptest.Server

	mu      sync.Mutex
	delay   time.Duration
	revoked map[string]bool
	logins  int
}

func newIdentityServer(t *testing.T) *identityServer {
	t.Helper()
	s := &identityServer{revoked: make(map[string]bool)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		delay := s.delay
		s.logins++
		s.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		r.ParseForm()
		if r.PostForm.Get("username") != "a@b.com" || r.PostForm.Get("password") != "admin123" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Incorrect email or password"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "T1", "token_type": "bearer"})
	})
	mux.HandleFunc("POST /api/auth/google-login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["token"] != "g-ok" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"detail":"Invalid Google token"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "TG"})
	})
	mux.HandleFunc("GET /api/auth/user", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(exchange.User{ID: "u1", Email: "a@b.com", Name: "Ada"})
	})
	mux.HandleFunc("POST /api/tts", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Could not validate credentials"}`))
			return
		}
		w.Write([]byte("audio"))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *identityServer) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.revoked[token]
}

func (s *identityServer) revoke(token string) {
	s.mu.Lock()
	s.revoked[token] = true
	s.mu.Unlock()
}

func (s *identityServer) setDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

type navigation struct {
	Target string
	Hard   bool
}

type recordingNavigator struct {
	mu   sync.Mutex
	navs []navigation
}

func (n *recordingNavigator) Navigate(target string, hard bool) {
	n.mu.Lock()
	n.navs = append(n.navs, navigation{Target: target, Hard: hard})
	n.mu.Unlock()
}

func (n *recordingNavigator) all() []navigation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]navigation(nil), n.navs...)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

type fixture struct {
	srv     *identityServer
	backend storage.Backend
	profile *Profile
}

func newFixture(t *testing.T, opts ...exchange.Option) *fixture {
	t.Helper()
	srv := newIdentityServer(t)
	backend := memory.NewBackend()
	client := exchange.New(srv.URL, append([]exchange.Option{exchange.WithLogger(quietLogger())}, opts...)...)
	p, err := NewProfile("http://localhost:3000", backend, client, WithLogger(quietLogger()))
	require.NoError(t, err)
	return &fixture{srv: srv, backend: backend, profile: p}
}

func (f *fixture) openTab(t *testing.T) (*Tab, *recordingNavigator) {
	t.Helper()
	nav := &recordingNavigator{}
	tab := f.profile.OpenTab(nav)
	t.Cleanup(tab.Close)
	return tab, nav
}

// gatedBackend parks the first armed read of the token after it has read the
// stored value, so the caller holds a value that may already be stale.
type gatedBackend struct {
	storage.Backend

	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{Backend: memory.NewBackend()}
}

func (g *gatedBackend) arm() {
	g.mu.Lock()
	g.armed = true
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
	g.mu.Unlock()
}

func (g *gatedBackend) Get(key string) (string, error) {
	v, err := g.Backend.Get(key)
	g.mu.Lock()
	hold := g.armed && key == KeyAuthToken
	if hold {
		g.armed = false
	}
	entered, release := g.entered, g.release
	g.mu.Unlock()
	if hold {
		close(entered)
		<-release
	}
	return v, err
}
