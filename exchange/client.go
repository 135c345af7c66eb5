// Package exchange talks to the identity service: it turns a password or an
// OAuth artifact into a bearer token.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmcleod/sessionsync/internal/util"
)

const (
	// DefaultPasswordTimeout bounds a password exchange.
	DefaultPasswordTimeout = 10 * time.Second

	// DefaultHTTPTimeout is the transport-level ceiling for every request.
	DefaultHTTPTimeout = 30 * time.Second

	maxResponseBytes = 64 << 10
	maxBodyExcerpt   = 512
)

// Paths lists the identity service endpoints, relative to the base URL.
type Paths struct {
	Password   string
	OAuthCode  string
	OAuthToken string
	Register   string
	User       string
}

// DefaultPaths returns the endpoints exposed by the identity service.
func DefaultPaths() Paths {
	return Paths{
		Password:   "/api/auth/login",
		OAuthCode:  "/api/auth/google-code",
		OAuthToken: "/api/auth/google-login",
		Register:   "/api/auth/register",
		User:       "/api/auth/user",
	}
}

// Client performs credential exchanges against one identity service.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	logger          *slog.Logger
	passwordTimeout time.Duration
	paths           Paths
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPasswordTimeout overrides DefaultPasswordTimeout.
func WithPasswordTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.passwordTimeout = d
		}
	}
}

// WithPaths overrides the endpoint paths. Empty fields keep their defaults.
func WithPaths(p Paths) Option {
	return func(c *Client) {
		if p.Password != "" {
			c.paths.Password = p.Password
		}
		if p.OAuthCode != "" {
			c.paths.OAuthCode = p.OAuthCode
		}
		if p.OAuthToken != "" {
			c.paths.OAuthToken = p.OAuthToken
		}
		if p.Register != "" {
			c.paths.Register = p.Register
		}
		if p.User != "" {
			c.paths.User = p.User
		}
	}
}

// New creates a Client for the identity service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{Timeout: DefaultHTTPTimeout},
		passwordTimeout: DefaultPasswordTimeout,
		paths:           DefaultPaths(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	c.logger = c.logger.With("component", "exchange")
	return c
}

// BaseURL returns the identity service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PasswordTimeout returns the deadline applied to password exchanges.
func (c *Client) PasswordTimeout() time.Duration {
	return c.passwordTimeout
}

// ExchangePassword submits an identifier/secret pair as a form post. The
// request is cancelled once the password timeout elapses.
func (c *Client) ExchangePassword(ctx context.Context, identifier, secret string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.passwordTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("username", util.NormalizeIdentifier(identifier))
	form.Set("password", secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.paths.Password, strings.NewReader(form.Encode()))
	if err != nil {
		return transportOutcome(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.exchange(req, MethodPassword)
}

// ExchangeOAuthCode submits an authorization code received by the redirect flow.
func (c *Client) ExchangeOAuthCode(ctx context.Context, code string) Outcome {
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.paths.OAuthCode, map[string]string{"code": code})
	if err != nil {
		return transportOutcome(err)
	}
	return c.exchange(req, MethodOAuthCode)
}

// ExchangeOAuthToken submits a provider-issued token obtained by the popup flow.
func (c *Client) ExchangeOAuthToken(ctx context.Context, token string) Outcome {
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.paths.OAuthToken, map[string]string{"token": token})
	if err != nil {
		return transportOutcome(err)
	}
	return c.exchange(req, MethodOAuthImplicitToken)
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
	TokenType   string `json:"token_type,omitempty"`
}

func (c *Client) exchange(req *http.Request, method Method) Outcome {
	start := time.Now()
	log := c.logger.With("method", string(method))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("exchange timed out", "elapsed", time.Since(start))
			return Outcome{Kind: OutcomeTransportError, Detail: DetailTimeout, err: ErrTimeout}
		}
		log.Warn("exchange failed", "error", err)
		return transportOutcome(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Outcome{Kind: OutcomeTransportError, Detail: DetailTimeout, Status: resp.StatusCode, err: ErrTimeout}
		}
		return transportOutcome(fmt.Errorf("reading response: %w", err))
	}
	excerpt := truncate(string(body), maxBodyExcerpt)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		log.Info("credentials rejected", "status", resp.StatusCode)
		return Outcome{Kind: OutcomeInvalidCredentials, Status: resp.StatusCode, Body: excerpt}

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var tr tokenResponse
		if err := json.Unmarshal(body, &tr); err != nil {
			log.Warn("malformed token response", "status", resp.StatusCode)
			return Outcome{Kind: OutcomeTransportError, Status: resp.StatusCode, Body: excerpt,
				err: &ServerError{Status: resp.StatusCode, Body: excerpt}}
		}
		token := tr.AccessToken
		if token == "" {
			token = tr.Token
		}
		if token == "" {
			log.Warn("token response without token", "status", resp.StatusCode)
			return Outcome{Kind: OutcomeTransportError, Status: resp.StatusCode, Body: excerpt,
				err: &ServerError{Status: resp.StatusCode, Body: excerpt}}
		}
		log.Debug("exchange succeeded", "elapsed", time.Since(start))
		return Outcome{Kind: OutcomeSuccess, Token: token, Status: resp.StatusCode}

	default:
		detail := parseDetail(body)
		log.Warn("exchange rejected", "status", resp.StatusCode, "detail", detail)
		return Outcome{Kind: OutcomeTransportError, Detail: detail, Status: resp.StatusCode, Body: excerpt,
			err: &ServerError{Status: resp.StatusCode, Detail: detail, Body: excerpt}}
	}
}

func transportOutcome(err error) Outcome {
	return Outcome{Kind: OutcomeTransportError, err: &NetworkError{Err: err}}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
