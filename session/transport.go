package session

import (
	"net/http"

	"golang.org/x/sync/singleflight"
)

// Transport attaches the tab's bearer token to outgoing requests and expires
// the session when an authenticated request is answered with 401.
type Transport struct {
	Base   http.RoundTripper
	Store  *CredentialStore
	Engine *Engine

	expiry singleflight.Group
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper. The token is read from storage on
// every request so a login or logout in another tab takes effect at once.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, ok := t.Store.ReadToken()
	if ok {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if ok && resp.StatusCode == http.StatusUnauthorized {
		// Requests that fail together share one teardown, and each returns
		// only once the session is gone.
		t.expiry.Do("expire", func() (any, error) {
			t.Engine.Expire()
			return nil, nil
		})
	}
	return resp, nil
}
