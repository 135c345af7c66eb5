package api

import (
	"net/http"
	"strings"

	"github.com/jmcleod/sessionsync/session"
)

// writeFlagCookie mirrors the flag the bootstrap script sets, so a client
// with scripting disabled still carries it on the next navigation.
func writeFlagCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.FlagCookieName,
		Value:    "true",
		Path:     "/",
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(session.FlagMaxAge.Seconds()),
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
