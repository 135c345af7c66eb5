package api

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/jmcleod/sessionsync/internal/uuid"
	"github.com/jmcleod/sessionsync/session"
	"github.com/jmcleod/sessionsync/web"
)

const (
	errNoCode     = "No authorization code received"
	errAuthFailed = "Authentication failed"
	errServer     = "Server error"
)

// GoogleStart sends the browser to the provider consent screen.
func (b *Bridge) GoogleStart(w http.ResponseWriter, r *http.Request) {
	if b.oauth == nil {
		writeError(w, http.StatusNotFound, "google sign-in is not configured")
		return
	}
	b.audit.log(AuditOAuthStart, r)
	http.Redirect(w, r, b.oauth.AuthCodeURL(uuid.New(), oauth2.AccessTypeOnline), http.StatusFound)
}

// GoogleRedirect handles the provider callback. On success it answers with
// the bootstrap document, otherwise it redirects to the login route with an
// error and optional details in the query string.
func (b *Bridge) GoogleRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		details := q.Get("details")
		if details == "" {
			details = q.Get("error_description")
		}
		b.audit.logFailure(AuditOAuthProviderError, r, providerErr)
		b.redirectToLogin(w, r, providerErr, details)
		return
	}

	code := q.Get("code")
	if code == "" {
		b.audit.logFailure(AuditOAuthMissingCode, r, "no code in callback")
		b.redirectToLogin(w, r, errNoCode, "")
		return
	}

	out := b.exchanger.ExchangeOAuthCode(r.Context(), code)
	switch {
	case out.OK():
		b.audit.log(AuditOAuthSuccess, r)
		b.serveBootstrap(w, r, out.Token)
	case out.Status != 0:
		b.audit.logFailure(AuditOAuthFailure, r, out.Kind.String(), slog.Int("status", out.Status))
		b.redirectToLogin(w, r, errAuthFailed, fmt.Sprintf("%d: %s", out.Status, out.Body))
	default:
		b.audit.logFailure(AuditOAuthFailure, r, out.Kind.String())
		b.redirectToLogin(w, r, errServer, out.Err().Error())
	}
}

func (b *Bridge) redirectToLogin(w http.ResponseWriter, r *http.Request, msg, details string) {
	target := b.loginPath + "?error=" + encodeURIComponent(msg)
	if details != "" {
		target += "&details=" + encodeURIComponent(details)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (b *Bridge) serveBootstrap(w http.ResponseWriter, r *http.Request, token string) {
	nonce := uuid.New()

	var buf bytes.Buffer
	err := web.RenderBootstrap(&buf, web.Bootstrap{
		Nonce:      nonce,
		TokenKey:   session.KeyAuthToken,
		Token:      token,
		FlagCookie: session.FlagCookieName,
		MaxAge:     int(session.FlagMaxAge.Seconds()),
		Target:     b.homePath,
	})
	if err != nil {
		b.logger.Error("rendering bootstrap document", "error", err)
		b.redirectToLogin(w, r, errServer, err.Error())
		return
	}

	bootstrapHeaders(w, nonce)
	writeFlagCookie(w, r)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

var uriComponentUnescapes = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// encodeURIComponent escapes s the way browsers do for a query value:
// spaces become %20 and !'()* stay literal.
func encodeURIComponent(s string) string {
	return uriComponentUnescapes.Replace(url.QueryEscape(s))
}
