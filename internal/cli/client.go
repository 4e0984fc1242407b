package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tides-platform/console/internal/auth"
	"github.com/tides-platform/console/internal/sessionstore"
)

// ErrSessionExpired is returned once the server rejected the stored session.
// The local session has already been cleared when it is returned.
var ErrSessionExpired = errors.New("session expired, run 'tidesctl login' again")

// ErrNotLoggedIn is returned by commands that need a stored session.
var ErrNotLoggedIn = errors.New("not logged in, run 'tidesctl login'")

type client struct {
	BaseURL string
	HTTP    *http.Client
	Store   *sessionstore.File
}

func newClient(cfg Config) *client {
	return &client{
		BaseURL: strings.TrimRight(cfg.Server, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Store:   sessionstore.NewFile(cfg.SessionFile),
	}
}

// session returns the stored record and its session container.
func (c *client) session(ctx context.Context) (*sessionstore.Record, *auth.Session, error) {
	rec, err := c.Store.Current(ctx)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return nil, auth.NewSession(), ErrNotLoggedIn
	}
	if err != nil {
		return nil, auth.NewSession(), err
	}

	s, err := rec.Session()
	if err != nil {
		// stored role is not one we know; drop it rather than guess
		_ = c.Store.Delete(ctx, "")
		return nil, auth.NewSession(), ErrNotLoggedIn
	}
	return rec, s, nil
}

// do sends a request to the console API. A 401 on an authenticated request
// clears the stored session and yields ErrSessionExpired.
func (c *client) do(ctx context.Context, method, path string, in any) (int, []byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	rec, err := c.Store.Current(ctx)
	authenticated := err == nil && rec.Token != ""
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+rec.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("console unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && authenticated {
		if err := c.Store.Delete(ctx, ""); err != nil {
			return resp.StatusCode, data, err
		}
		return resp.StatusCode, data, ErrSessionExpired
	}
	return resp.StatusCode, data, nil
}

// apiError turns an error response into an error.
func apiError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("%s (%s, status %d)", e.Error, e.Code, status)
	}
	return fmt.Errorf("request failed: status=%d body=%s", status, strings.TrimSpace(string(body)))
}
