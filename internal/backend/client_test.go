package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tides-platform/console/internal/auth"
	"github.com/tides-platform/console/internal/shared/config"
	"github.com/tides-platform/console/internal/shared/errors"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(config.BackendConfig{BaseURL: srv.URL + "/api", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(config.BackendConfig{BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/login/", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "eng@tides.example", body["email"])
		assert.Equal(t, "eng@tides.example", body["username"])
		assert.Equal(t, "secret", body["password"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"abc123","message":"Login successful",
			"user":{"id":2,"username":"eng","first_name":"Ena","last_name":"Gin","email":"eng@tides.example","role":"Engineer"}}`))
	}))

	result, err := c.Login(context.Background(), "eng@tides.example", "secret")
	require.NoError(t, err)
	assert.Equal(t, "abc123", result.Token)
	require.NotNil(t, result.User)

	p := result.User.Principal()
	assert.Equal(t, "2", p.ID)
	assert.Equal(t, "Ena Gin", p.Name)
	assert.Equal(t, auth.RoleEngineer, p.Role)
}

func TestLoginErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   string
	}{
		{"bad credentials", http.StatusUnauthorized, `{"error":"Invalid credentials"}`, "UNAUTHORIZED"},
		{"validation", http.StatusBadRequest, `{"username":["This field is required."]}`, "BAD_REQUEST"},
		{"server error", http.StatusInternalServerError, `oops`, "BAD_GATEWAY"},
		{"no token", http.StatusOK, `{"message":"ok"}`, "BAD_GATEWAY"},
		{"garbage body", http.StatusOK, `{`, "BAD_GATEWAY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))

			_, err := c.Login(context.Background(), "x", "y")
			appErr, ok := errors.As(err)
			require.True(t, ok, "expected AppError, got %v", err)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestLoginKeepsBackendMessage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Invalid credentials"}`))
	}))

	_, err := c.Login(context.Background(), "x", "y")
	appErr, _ := errors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "Invalid credentials", appErr.Message)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
}

func TestProfile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/profile/", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Not authenticated"}`))
			return
		}
		w.Write([]byte(`{"id":"u-1","name":"Pia Planner","email":"p@tides.example","role":"Planner"}`))
	}))

	user, err := c.Profile(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "Pia Planner", user.DisplayName())
	assert.Equal(t, FlexibleID("u-1"), user.ID)

	_, err = c.Profile(context.Background(), "bad")
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
}

func TestProfileCollapsesConcurrentLookups(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		w.Write([]byte(`{"id":1,"email":"v@tides.example","role":"Viewer"}`))
	}))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Profile(context.Background(), "same-token")
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestProfileSurvivesFirstCallerCancel(t *testing.T) {
	var calls int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		<-release
		w.Write([]byte(`{"id":7,"email":"e@tides.example","role":"Engineer"}`))
	}))

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Profile(first, "shared-token")
		firstErr <- err
	}()
	<-started

	second := make(chan *User, 1)
	go func() {
		user, err := c.Profile(context.Background(), "shared-token")
		assert.NoError(t, err)
		second <- user
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	select {
	case user := <-second:
		require.NotNil(t, user)
		assert.Equal(t, "Engineer", user.Role)
	case <-time.After(time.Second):
		t.Fatal("joined caller did not return")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLogoutAndTokenScheme(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		assert.Equal(t, "/api/auth/logout/", r.URL.Path)
		w.Write([]byte(`{"message":"Logout successful"}`))
	}))
	defer srv.Close()

	c, err := NewClient(config.BackendConfig{BaseURL: srv.URL + "/api/", TokenScheme: "Token"})
	require.NoError(t, err)

	require.NoError(t, c.Logout(context.Background(), "k1"))
	assert.Equal(t, "Token k1", got)
}

func TestHealth(t *testing.T) {
	healthy := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	assert.NoError(t, healthy.Health(context.Background()))

	broken := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	assert.Error(t, broken.Health(context.Background()))
}

func TestFlexibleID(t *testing.T) {
	tests := map[string]FlexibleID{
		`12`:    "12",
		`"abc"`: "abc",
		`null`:  "",
		`1.5e3`: "1.5e3",
	}
	for in, want := range tests {
		var id FlexibleID
		require.NoError(t, json.Unmarshal([]byte(in), &id), in)
		assert.Equal(t, want, id)
	}

	var id FlexibleID
	assert.Error(t, json.Unmarshal([]byte(`{}`), &id))
}

func TestDisplayNameFallbacks(t *testing.T) {
	assert.Equal(t, "N", User{Name: "N", FirstName: "F"}.DisplayName())
	assert.Equal(t, "F", User{FirstName: "F"}.DisplayName())
	assert.Equal(t, "u", User{Username: "u"}.DisplayName())
	assert.Equal(t, "e@x", User{Email: "e@x"}.DisplayName())
}
