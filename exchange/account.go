package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jmcleod/sessionsync/internal/util"
)

// RegisterRequest is the body of an account registration.
type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
}

// User is the account profile returned by the identity service.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Register creates an account. It does not log the new account in.
func (c *Client) Register(ctx context.Context, r RegisterRequest) (User, error) {
	r.Email = util.NormalizeIdentifier(r.Email)
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.paths.Register, r)
	if err != nil {
		return User{}, err
	}
	var u User
	if err := c.doJSON(c.httpClient, req, &u); err != nil {
		return User{}, err
	}
	c.logger.Info("account registered", "user_id", u.ID)
	return u, nil
}

// FetchUser loads the current account using hc, which is expected to attach
// the bearer token (see session.Tab.HTTPClient).
func (c *Client) FetchUser(ctx context.Context, hc *http.Client) (User, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, c.paths.User, nil)
	if err != nil {
		return User{}, err
	}
	var u User
	if err := c.doJSON(hc, req, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (c *Client) doJSON(hc *http.Client, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusConflict:
		return ErrAlreadyRegistered
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &ServerError{Status: resp.StatusCode, Detail: parseDetail(body), Body: truncate(string(body), maxBodyExcerpt)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
