package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/sessionsync/exchange"
	"github.com/jmcleod/sessionsync/internal/config"
	"github.com/jmcleod/sessionsync/session"
	"github.com/jmcleod/sessionsync/storage"
	bboltstorage "github.com/jmcleod/sessionsync/storage/bbolt"
	filestorage "github.com/jmcleod/sessionsync/storage/file"
	"github.com/jmcleod/sessionsync/storage/memory"
)

const (
	localStorageFile = "local_storage.json"
	cookiesFile      = "cookies.json"
	profileDBFile    = "profile.db"
	cookiesBucket    = "cookies"
)

// profileHandle is an opened profile plus the resources behind it.
type profileHandle struct {
	profile *session.Profile
	client  *exchange.Client
	local   storage.Backend

	// watchable is set for the file backend, the only one another process
	// can write to while this one runs.
	watchable *filestorage.Backend
	closers   []io.Closer
}

// openProfile builds the storage, cookie jar and exchange client described
// by c.
func openProfile(c config.Config, log *slog.Logger) (*profileHandle, error) {
	h := &profileHandle{}

	var local, cookies storage.Backend
	switch c.Profile.Backend {
	case config.BackendMemory:
		local, cookies = memory.NewBackend(), memory.NewBackend()

	case config.BackendBbolt:
		if err := os.MkdirAll(c.Profile.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create profile directory: %w", err)
		}
		db, err := bbolt.Open(filepath.Join(c.Profile.Dir, profileDBFile), 0o600, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open profile storage: %w", err)
		}
		h.closers = append(h.closers, db)
		l, err := bboltstorage.NewBackend(db, bboltstorage.DefaultBucket)
		if err != nil {
			h.Close()
			return nil, err
		}
		ck, err := bboltstorage.NewBackend(db, cookiesBucket)
		if err != nil {
			h.Close()
			return nil, err
		}
		local, cookies = l, ck

	case config.BackendFile:
		if err := os.MkdirAll(c.Profile.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create profile directory: %w", err)
		}
		l, err := filestorage.NewBackend(filepath.Join(c.Profile.Dir, localStorageFile), filestorage.WithLogger(log))
		if err != nil {
			return nil, err
		}
		ck, err := filestorage.NewBackend(filepath.Join(c.Profile.Dir, cookiesFile), filestorage.WithLogger(log))
		if err != nil {
			return nil, err
		}
		local, cookies = l, ck
		h.watchable = l

	default:
		return nil, fmt.Errorf("unknown profile backend %q", c.Profile.Backend)
	}

	if c.Profile.Secret != "" {
		sealed, err := storage.NewSealedBackend(local, []byte(c.Profile.Secret))
		if err != nil {
			h.Close()
			return nil, err
		}
		local = sealed
	}
	h.local = local

	h.client = exchange.New(c.IdentityURL,
		exchange.WithLogger(log),
		exchange.WithPasswordTimeout(c.PasswordTimeout),
	)

	p, err := session.NewProfile(c.Origin, local, h.client,
		session.WithCookieJar(session.NewPersistentJar(cookies, log)),
		session.WithLogger(log),
		session.WithProfileLoginPath(c.LoginPath),
	)
	if err != nil {
		h.Close()
		return nil, err
	}
	h.profile = p
	return h, nil
}

// watch forwards changes made by other processes to the profile's tabs. It
// is a no-op for backends no other process can reach.
func (h *profileHandle) watch(ctx context.Context) error {
	if h.watchable == nil {
		return nil
	}
	return h.watchable.Watch(ctx, h.profile.NotifyExternalChange)
}

func (h *profileHandle) Close() error {
	var errs []error
	for _, c := range h.closers {
		errs = append(errs, c.Close())
	}
	h.closers = nil
	return errors.Join(errs...)
}

// navigator reports the engine's navigation requests on w. A CLI has no
// routes, so the request is only described.
func navigator(w io.Writer) session.Navigator {
	return session.NavigatorFunc(func(target string, hard bool) {
		if hard {
			fmt.Fprintf(w, "-> %s (reload)\n", target)
			return
		}
		fmt.Fprintf(w, "-> %s\n", target)
	})
}
