package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionsync/exchange"
	"github.com/jmcleod/sessionsync/internal/config"
	"github.com/jmcleod/sessionsync/session"
	"github.com/jmcleod/sessionsync/storage"
)

func TestMain(m *testing.M) {
	text.DisableColors()
	os.Exit(m.Run())
}

func newIdentityServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("username") != "a@b.com" || r.PostForm.Get("password") != "admin123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "T1"})
	})
	mux.HandleFunc("POST /api/auth/google-code", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Code string }
		json.NewDecoder(r.Body).Decode(&body)
		if body.Code != "c1" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"detail":"invalid code"}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "T2"})
	})
	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var req exchange.RegisterRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Email == "taken@b.com" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(exchange.User{ID: "u2", Email: req.Email, Name: req.Name})
	})
	mux.HandleFunc("GET /api/auth/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer T1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(exchange.User{ID: "u1", Email: "a@b.com", Name: "Ada"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// useConfig installs a configuration for the command under test.
func useConfig(t *testing.T, identityURL, backend string) {
	t.Helper()
	c := config.Default()
	c.IdentityURL = identityURL
	c.Profile.Backend = backend
	c.Profile.Dir = t.TempDir()
	c.PasswordTimeout = 2 * time.Second
	require.NoError(t, c.Validate())
	cfg = c
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestProfile(t *testing.T) (*profileHandle, *session.Tab) {
	t.Helper()
	h, err := openProfile(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	tab := h.profile.OpenTab(navigator(io.Discard))
	t.Cleanup(tab.Close)
	return h, tab
}

func TestOpenProfileBackends(t *testing.T) {
	srv := newIdentityServer(t)
	for _, backend := range []string{config.BackendMemory, config.BackendBbolt, config.BackendFile} {
		t.Run(backend, func(t *testing.T) {
			useConfig(t, srv.URL, backend)
			h, tab := openTestProfile(t)

			require.NoError(t, runLogin(t.Context(), h, tab, newPrompter(strings.NewReader("a@b.com\nadmin123\n"), io.Discard), io.Discard, loginOptions{}))
			assert.Equal(t, session.StateAuthenticated, tab.Engine.State())
			assert.Equal(t, backend == config.BackendFile, h.watchable != nil)
		})
	}
}

func TestSessionSurvivesReopen(t *testing.T) {
	srv := newIdentityServer(t)
	for _, backend := range []string{config.BackendBbolt, config.BackendFile} {
		t.Run(backend, func(t *testing.T) {
			useConfig(t, srv.URL, backend)

			h, err := openProfile(cfg, logger)
			require.NoError(t, err)
			tab := h.profile.OpenTab(nil)
			require.True(t, tab.Engine.Login(t.Context(), "a@b.com", "admin123").OK())
			tab.Close()
			require.NoError(t, h.Close())

			_, reopened := openTestProfile(t)
			assert.Equal(t, session.StateAuthenticated, reopened.Engine.State(), "token and flag cookie are both durable")
		})
	}
}

func TestSealedProfile(t *testing.T) {
	srv := newIdentityServer(t)
	useConfig(t, srv.URL, config.BackendBbolt)
	cfg.Profile.Secret = "correct horse"

	h, tab := openTestProfile(t)
	require.True(t, tab.Engine.Login(t.Context(), "a@b.com", "admin123").OK())

	token, ok := tab.Store.ReadToken()
	require.True(t, ok)
	assert.Equal(t, "T1", token)
	assert.IsType(t, &storage.SealedBackend{}, h.local)
}

func TestLoginCommand(t *testing.T) {
	srv := newIdentityServer(t)

	t.Run("WrongPassword", func(t *testing.T) {
		useConfig(t, srv.URL, config.BackendMemory)
		h, tab := openTestProfile(t)
		err := runLogin(t.Context(), h, tab, newPrompter(strings.NewReader("nope\n"), io.Discard), io.Discard, loginOptions{Email: "a@b.com"})
		require.ErrorIs(t, err, exchange.ErrInvalidCredentials)
		assert.Contains(t, err.Error(), exchange.MessageInvalidCredentials)
		assert.Equal(t, session.StateUnauthenticated, tab.Engine.State())
	})

	t.Run("Code", func(t *testing.T) {
		useConfig(t, srv.URL, config.BackendMemory)
		h, tab := openTestProfile(t)
		var out bytes.Buffer
		require.NoError(t, runLogin(t.Context(), h, tab, newPrompter(strings.NewReader(""), io.Discard), &out, loginOptions{Code: "c1"}))
		token, _ := tab.Store.ReadToken()
		assert.Equal(t, "T2", token)
		assert.Equal(t, session.StateAuthenticated, tab.Engine.State())
		assert.Contains(t, out.String(), "Logged in")
	})

	t.Run("BadCode", func(t *testing.T) {
		useConfig(t, srv.URL, config.BackendMemory)
		h, tab := openTestProfile(t)
		err := runLogin(t.Context(), h, tab, newPrompter(strings.NewReader(""), io.Discard), io.Discard, loginOptions{Code: "zz"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid code")
		_, ok := tab.Store.ReadToken()
		assert.False(t, ok)
	})

	t.Run("AlreadyLoggedIn", func(t *testing.T) {
		useConfig(t, srv.URL, config.BackendMemory)
		h, tab := openTestProfile(t)
		require.NoError(t, tab.Engine.AdoptToken("T1"))
		var out bytes.Buffer
		require.NoError(t, runLogin(t.Context(), h, tab, newPrompter(strings.NewReader(""), io.Discard), &out, loginOptions{}))
		assert.Contains(t, out.String(), "Already logged in")
	})
}

func TestLogoutCommand(t *testing.T) {
	srv := newIdentityServer(t)
	useConfig(t, srv.URL, config.BackendMemory)
	h, tab := openTestProfile(t)
	other := h.profile.OpenTab(nil)
	defer other.Close()

	require.NoError(t, tab.Engine.AdoptToken("T1"))
	require.Eventually(t, func() bool { return other.Engine.State() == session.StateAuthenticated }, time.Second, 5*time.Millisecond)

	var out bytes.Buffer
	runLogout(tab, &out)
	assert.Contains(t, out.String(), "Logged out")
	require.Eventually(t, func() bool { return other.Engine.State() == session.StateUnauthenticated }, time.Second, 5*time.Millisecond)

	out.Reset()
	runLogout(tab, &out)
	assert.Contains(t, out.String(), "Not logged in")
}

func TestRegisterCommand(t *testing.T) {
	srv := newIdentityServer(t)

	t.Run("ThenLogin", func(t *testing.T) {
		useConfig(t, srv.URL, config.BackendMemory)
		h, tab := openTestProfile(t)
		var out bytes.Buffer
		in := strings.NewReader("admin123\nadmin123\n")
		require.NoError(t, runRegister(t.Context(), h, tab, newPrompter(in, io.Discard), &out, registerOptions{Email: " a@b.com", Login: true}))
		assert.Contains(t, out.String(), "Registered a@b.com")
		assert.Equal(t, session.StateAuthenticated, tab.Engine.State())
	})

	t.Run("Mismatch", func(t *testing.T) {
		useConfig(t, srv.URL, config.BackendMemory)
		h, tab := openTestProfile(t)
		err := runRegister(t.Context(), h, tab, newPrompter(strings.NewReader("one\ntwo\n"), io.Discard), io.Discard, registerOptions{Email: "x@b.com"})
		assert.ErrorContains(t, err, "do not match")
	})

	t.Run("Taken", func(t *testing.T) {
		useConfig(t, srv.URL, config.BackendMemory)
		h, tab := openTestProfile(t)
		err := runRegister(t.Context(), h, tab, newPrompter(strings.NewReader("pw\npw\n"), io.Discard), io.Discard, registerOptions{Email: "taken@b.com"})
		assert.ErrorContains(t, err, "already registered")
	})
}

func TestStatus(t *testing.T) {
	srv := newIdentityServer(t)
	useConfig(t, srv.URL, config.BackendMemory)
	h, tab := openTestProfile(t)

	r := collectStatus(t.Context(), h, tab)
	assert.Equal(t, session.StateUnauthenticated, r.State)
	assert.Nil(t, r.User)

	require.NoError(t, tab.Engine.AdoptToken("T1"))
	require.NoError(t, tab.Voice.Record(session.VoiceReference{Path: "/v/a.wav", DisplayName: "a.wav"}))
	r = collectStatus(t.Context(), h, tab)
	assert.Equal(t, session.StateAuthenticated, r.State)
	require.NotNil(t, r.User)
	assert.Equal(t, "Ada", r.User.Name)

	var out bytes.Buffer
	renderStatus(&out, r)
	assert.Contains(t, out.String(), "Ada <a@b.com>")
	assert.Contains(t, out.String(), "a.wav (/v/a.wav)")
}

func TestStatusWithRevokedToken(t *testing.T) {
	srv := newIdentityServer(t)
	useConfig(t, srv.URL, config.BackendMemory)
	h, tab := openTestProfile(t)
	require.NoError(t, tab.Engine.AdoptToken("revoked"))

	r := collectStatus(t.Context(), h, tab)
	assert.ErrorIs(t, r.UserErr, exchange.ErrUnauthorized)
	assert.Equal(t, session.StateUnauthenticated, r.State, "a 401 expires the session")
	assert.False(t, r.HasToken)

	var out bytes.Buffer
	renderStatus(&out, r)
	assert.Contains(t, out.String(), "token rejected")
}

func TestVoiceCommands(t *testing.T) {
	srv := newIdentityServer(t)
	useConfig(t, srv.URL, config.BackendMemory)
	_, tab := openTestProfile(t)

	assert.ErrorContains(t, runVoiceSet(tab, io.Discard, "/v/a.wav", ""), "log in")

	require.NoError(t, tab.Engine.AdoptToken("T1"))
	require.NoError(t, runVoiceSet(tab, io.Discard, "/v/a.wav", ""))

	var out bytes.Buffer
	runVoiceShow(tab, &out)
	assert.Equal(t, "a.wav (/v/a.wav)\n", out.String())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchFollowsOtherTabs(t *testing.T) {
	srv := newIdentityServer(t)
	useConfig(t, srv.URL, config.BackendMemory)
	h, tab := openTestProfile(t)

	in, feed := io.Pipe()
	defer feed.Close()
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- runWatch(t.Context(), tab, in, &out) }()

	other := h.profile.OpenTab(nil)
	defer other.Close()
	require.True(t, other.Engine.Login(t.Context(), "a@b.com", "admin123").OK())
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "state: authenticated") }, time.Second, 5*time.Millisecond)

	io.WriteString(feed, "bogus\n")
	require.Eventually(t, func() bool { return strings.Contains(out.String(), `unknown command "bogus"`) }, time.Second, 5*time.Millisecond)

	io.WriteString(feed, "quit\n")
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop on quit")
	}
}

func TestPrompterSecret(t *testing.T) {
	p := newPrompter(strings.NewReader("a@b.com\r\ns3cret\r\n"), io.Discard)
	email, err := p.line("Email: ")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", email)

	buf, err := p.secret("Password: ")
	require.NoError(t, err)
	defer buf.Destroy()
	assert.Equal(t, "s3cret", buf.String())

	_, err = p.secret("Password: ")
	assert.Error(t, err, "an empty secret is rejected")
}

func TestNavigator(t *testing.T) {
	var out bytes.Buffer
	nav := navigator(&out)
	nav.Navigate("/login", true)
	nav.Navigate("/login", false)
	assert.Equal(t, "-> /login (reload)\n-> /login\n", out.String())
}

func TestOAuthConfig(t *testing.T) {
	c := config.Default()
	assert.Nil(t, oauthConfig(c))

	c.Bridge.GoogleClientID = "client-1"
	oc := oauthConfig(c)
	require.NotNil(t, oc)
	assert.Equal(t, "http://localhost:3000/api/auth/google-redirect", oc.RedirectURL)
}

func TestBridgeRouter(t *testing.T) {
	srv := newIdentityServer(t)
	useConfig(t, srv.URL, config.BackendMemory)
	router := newBridgeRouter(cfg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/google-redirect?code=c1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"T2"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
