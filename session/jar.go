package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/jmcleod/sessionsync/storage"
)

const cookieKeyPrefix = "cookie:"

type storedCookie struct {
	URL     string    `json:"url"`
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path,omitempty"`
	Secure  bool      `json:"secure,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// NewCookieJar returns an in-memory jar with public-suffix domain rules.
func NewCookieJar() (*cookiejar.Jar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// PersistentJar is a cookie jar whose contents live in a storage backend so
// they survive the process and are visible to other processes of the same
// profile. The backend is the source of truth; every read replays it into a
// fresh cookiejar so domain, path and expiry matching stay standard.
type PersistentJar struct {
	mu      sync.Mutex
	backend storage.Backend
	logger  *slog.Logger
	now     func() time.Time
}

var _ http.CookieJar = (*PersistentJar)(nil)

// NewPersistentJar creates a jar persisted in backend.
func NewPersistentJar(backend storage.Backend, logger *slog.Logger) *PersistentJar {
	if logger == nil {
		logger = slog.Default()
	}
	return &PersistentJar{
		backend: backend,
		logger:  logger.With("component", "cookie-jar"),
		now:     time.Now,
	}
}

func cookieKey(u *url.URL, name string) string {
	return cookieKeyPrefix + u.Scheme + "://" + u.Host + "|" + name
}

// SetCookies implements http.CookieJar.
func (j *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	for _, c := range cookies {
		key := cookieKey(u, c.Name)
		expires := c.Expires
		if c.MaxAge > 0 {
			expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		if c.MaxAge < 0 || (!expires.IsZero() && !expires.After(now)) {
			if err := j.backend.Delete(key); err != nil && !errors.Is(err, storage.ErrNotFound) {
				j.logger.Warn("deleting cookie", "name", c.Name, "error", err)
			}
			continue
		}
		data, err := json.Marshal(storedCookie{
			URL:     u.Scheme + "://" + u.Host + "/",
			Name:    c.Name,
			Value:   c.Value,
			Path:    c.Path,
			Secure:  c.Secure,
			Expires: expires,
		})
		if err != nil {
			j.logger.Warn("encoding cookie", "name", c.Name, "error", err)
			continue
		}
		if err := j.backend.Put(key, string(data)); err != nil {
			j.logger.Warn("storing cookie", "name", c.Name, "error", err)
		}
	}
}

// Cookies implements http.CookieJar.
func (j *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	jar, err := j.load()
	if err != nil {
		j.logger.Warn("loading cookies", "error", err)
		return nil
	}
	return jar.Cookies(u)
}

func (j *PersistentJar) load() (*cookiejar.Jar, error) {
	jar, err := NewCookieJar()
	if err != nil {
		return nil, err
	}
	keys, err := j.backend.Keys()
	if err != nil {
		return nil, fmt.Errorf("listing cookies: %w", err)
	}
	now := j.now()
	for _, key := range keys {
		if !strings.HasPrefix(key, cookieKeyPrefix) {
			continue
		}
		raw, err := j.backend.Get(key)
		if err != nil {
			continue
		}
		var sc storedCookie
		if err := json.Unmarshal([]byte(raw), &sc); err != nil {
			j.logger.Warn("skipping malformed cookie", "key", key, "error", err)
			continue
		}
		if !sc.Expires.IsZero() && !sc.Expires.After(now) {
			continue
		}
		u, err := url.Parse(sc.URL)
		if err != nil {
			continue
		}
		jar.SetCookies(u, []*http.Cookie{{
			Name:    sc.Name,
			Value:   sc.Value,
			Path:    sc.Path,
			Secure:  sc.Secure,
			Expires: sc.Expires,
		}})
	}
	return jar, nil
}
