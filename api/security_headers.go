package api

import (
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultPolicy = "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self'"

	// The SwaggerUI and Redoc pages pull their bundles and fonts from public
	// CDNs and boot with an inline script.
	docsPolicy = "default-src 'self'; " +
		"script-src 'self' 'unsafe-inline' https://unpkg.com https://cdn.jsdelivr.net; " +
		"style-src 'self' 'unsafe-inline' https://unpkg.com https://fonts.googleapis.com; " +
		"font-src 'self' https://fonts.gstatic.com; " +
		"img-src 'self' data: https://unpkg.com https://cdn.jsdelivr.net; " +
		"worker-src 'self' blob:; connect-src 'self'"
)

func isDocsPath(path string) bool {
	return strings.HasPrefix(path, "/docs") || strings.HasPrefix(path, "/redoc")
}

// SecurityHeaders is middleware that sets standard security response headers
// on every response. It should be placed early in the middleware chain.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		if isDocsPath(r.URL.Path) {
			w.Header().Set("Content-Security-Policy", docsPolicy)
		} else {
			w.Header().Set("Content-Security-Policy", defaultPolicy)
		}

		if requestIsSecure(r) {
			w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// bootstrapHeaders replaces the default policy for the bootstrap document:
// only the script carrying nonce may run, and nothing may be cached.
func bootstrapHeaders(w http.ResponseWriter, nonce string) {
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Content-Security-Policy",
		fmt.Sprintf("default-src 'none'; script-src 'nonce-%s'; base-uri 'none'; form-action 'none'; frame-ancestors 'none'", nonce))
}
