package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"golang.org/x/oauth2"

	"github.com/jmcleod/sessionsync/exchange"
)

// CodeExchanger trades a provider authorization code for a session token.
// *exchange.Client satisfies it.
type CodeExchanger interface {
	ExchangeOAuthCode(ctx context.Context, code string) exchange.Outcome
}

// Bridge serves the provider redirect endpoint that turns an OAuth callback
// into a stored session in the browser.
type Bridge struct {
	exchanger CodeExchanger
	oauth     *oauth2.Config
	logger    *slog.Logger
	alertFn   AlertFunc
	audit     *auditLogger
	loginPath string
	homePath  string
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the Bridge.
type Option func(*Bridge)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithAlertFunc registers a callback for anomaly alerts, such as a spike in
// failed code exchanges.
func WithAlertFunc(fn AlertFunc) Option {
	return func(b *Bridge) {
		b.alertFn = fn
	}
}

// WithOAuthConfig enables GET /api/auth/google, which sends the browser to
// the provider's consent screen.
func WithOAuthConfig(cfg *oauth2.Config) Option {
	return func(b *Bridge) {
		b.oauth = cfg
	}
}

// WithLoginPath sets the route failures are redirected to. Default "/login".
func WithLoginPath(path string) Option {
	return func(b *Bridge) {
		if path != "" {
			b.loginPath = path
		}
	}
}

// WithHomePath sets the route the bootstrap document lands on. Default "/".
func WithHomePath(path string) Option {
	return func(b *Bridge) {
		if path != "" {
			b.homePath = path
		}
	}
}

// New creates a Bridge that exchanges codes through exchanger.
func New(exchanger CodeExchanger, opts ...Option) *Bridge {
	b := &Bridge{
		exchanger: exchanger,
		loginPath: "/login",
		homePath:  "/",
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	b.audit = newAuditLogger(b.logger)
	if b.alertFn != nil {
		b.audit.metrics = newMetricsCollector(b.alertFn)
	}
	return b
}

// Router returns a chi.Router with all bridge routes mounted.
func (b *Bridge) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Get("/health", b.Health)
	r.Get("/api/auth/google", b.GoogleStart)
	r.Get("/api/auth/google-redirect", b.GoogleRedirect)

	return r
}

// Health reports that the bridge is serving.
func (b *Bridge) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", OAuthStart: b.oauth != nil})
}
