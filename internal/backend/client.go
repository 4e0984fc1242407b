// Package backend talks to the upstream REST backend that owns users,
// projects and catalogs.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tides-platform/console/internal/shared/config"
	"github.com/tides-platform/console/internal/shared/errors"
	"github.com/tides-platform/console/internal/shared/logger"
	"github.com/tides-platform/console/internal/shared/metrics"
)

const maxErrorBody = 4 << 10

// Client calls the backend's auth endpoints.
type Client struct {
	baseURL     *url.URL
	tokenScheme string
	httpClient  *http.Client
	profiles    singleflight.Group
	log         *zap.Logger
}

// NewClient creates a backend client for cfg.BaseURL.
func NewClient(cfg config.BackendConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", cfg.BaseURL)
	}

	scheme := cfg.TokenScheme
	if scheme == "" {
		scheme = "Bearer"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:     base,
		tokenScheme: scheme,
		httpClient:  &http.Client{Timeout: timeout},
		log:         logger.Named("backend"),
	}, nil
}

// BaseURL returns the backend root every API path is resolved against.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Authorize sets the Authorization header for a backend token.
func (c *Client) Authorize(req *http.Request, token string) {
	req.Header.Set("Authorization", c.tokenScheme+" "+token)
}

// Login exchanges credentials for a backend token.
// POST /auth/login/
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body := loginRequest{Email: email, Username: email, Password: password}

	var result LoginResult
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login/", "", body, &result); err != nil {
		return nil, err
	}
	if result.Token == "" {
		return nil, errors.BadGateway("backend login returned no token", nil)
	}
	return &result, nil
}

// Profile returns the user owning token. Concurrent lookups for the same
// token share one backend request, which runs detached from any single
// caller and is bounded by the client timeout.
// GET /auth/profile/
func (c *Client) Profile(ctx context.Context, token string) (*User, error) {
	ch := c.profiles.DoChan(token, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.httpClient.Timeout)
		defer cancel()

		var user User
		if err := c.do(shared, "profile", http.MethodGet, "/auth/profile/", token, nil, &user); err != nil {
			return nil, err
		}
		return &user, nil
	})

	select {
	case <-ctx.Done():
		return nil, errors.BadGateway("backend unavailable", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		u := *res.Val.(*User)
		return &u, nil
	}
}

// Logout revokes token at the backend.
// POST /auth/logout/
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, "logout", http.MethodPost, "/auth/logout/", token, nil, nil)
}

// Health reports whether the backend answers at all. Any non-5xx status
// counts as reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve("/"), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("backend unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) resolve(path string) string {
	return strings.TrimRight(c.baseURL.String(), "/") + path
}

func (c *Client) do(ctx context.Context, op, method, path, token string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.Internal(fmt.Errorf("failed to encode %s request: %w", op, err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return errors.Internal(err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		c.Authorize(req, token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordBackendRequest(op, 0, time.Since(start))
		c.log.Warn("backend request failed", logger.Op(op), logger.Err(err))
		return errors.BadGateway("backend unavailable", err)
	}
	defer resp.Body.Close()
	metrics.RecordBackendRequest(op, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.BadGateway("invalid backend response", err)
	}
	return nil
}

// statusError maps a non-2xx backend response. 401 is the authorization
// failure signal that forces a logout.
func statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := backendMessage(raw)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if message == "" {
			message = "not authenticated"
		}
		return errors.Unauthorized(message)
	case http.StatusBadRequest:
		if message == "" {
			message = "invalid request"
		}
		return errors.BadRequest(message)
	case http.StatusForbidden:
		if message == "" {
			message = "forbidden by backend"
		}
		return errors.Forbidden(message)
	default:
		return errors.BadGateway(fmt.Sprintf("backend %s failed with status %d", op, resp.StatusCode), nil)
	}
}

// backendMessage pulls a human message out of the backend's error bodies:
// {"error": "..."}, {"detail": "..."} or field error maps.
func backendMessage(raw []byte) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	for _, key := range []string{"error", "detail", "message"} {
		if s, ok := body[key].(string); ok && s != "" {
			return s
		}
	}
	if list, ok := body["non_field_errors"].([]any); ok && len(list) > 0 {
		if s, ok := list[0].(string); ok {
			return s
		}
	}
	return ""
}
