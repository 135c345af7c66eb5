package session

import (
	"net/http"
	"net/url"
	"time"
)

const (
	// FlagCookieName is the cookie that marks a profile as logged in.
	FlagCookieName = "isAuthenticated"
	// FlagMaxAge is the lifetime of the flag cookie.
	FlagMaxAge = 7 * 24 * time.Hour
)

// CookieFlag reads and writes the authenticated flag cookie of one origin.
type CookieFlag struct {
	jar    http.CookieJar
	origin *url.URL
}

// NewCookieFlag binds the flag to jar for origin.
func NewCookieFlag(jar http.CookieJar, origin *url.URL) *CookieFlag {
	return &CookieFlag{jar: jar, origin: origin}
}

func (f *CookieFlag) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     FlagCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   f.origin.Scheme == "https",
		SameSite: http.SameSiteLaxMode,
	}
}

// Set marks the origin as authenticated for FlagMaxAge.
func (f *CookieFlag) Set() {
	f.jar.SetCookies(f.origin, []*http.Cookie{f.cookie("true", int(FlagMaxAge.Seconds()))})
}

// Clear expires the flag.
func (f *CookieFlag) Clear() {
	f.jar.SetCookies(f.origin, []*http.Cookie{f.cookie("", -1)})
}

// Get reports whether the flag is present and true.
func (f *CookieFlag) Get() bool {
	for _, c := range f.jar.Cookies(f.origin) {
		if c.Name == FlagCookieName {
			return c.Value == "true"
		}
	}
	return false
}
