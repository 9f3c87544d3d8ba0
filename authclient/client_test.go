package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuthServer simulates the auth service: one valid access token at a
// time, refresh rotates it, and the test controls failures.
type fakeAuthServer struct {
	mu            sync.Mutex
	validAccess   string
	validRefresh  string
	tokenSeq      int
	refreshCalls  atomic.Int64
	refreshDelay  time.Duration
	refreshStatus int // when non-zero, refresh always returns this status
	loginStatus   int // when non-zero, login always returns this status
}

func newFakeAuthServer() *fakeAuthServer {
	return &fakeAuthServer{}
}

func (s *fakeAuthServer) issue() (string, string) {
	s.tokenSeq++
	access := fmt.Sprintf("access-%d", s.tokenSeq)
	refresh := fmt.Sprintf("refresh-%d", s.tokenSeq)
	s.validAccess = access
	s.validRefresh = refresh
	return access, refresh
}

func (s *fakeAuthServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if s.loginStatus != 0 {
			w.WriteHeader(s.loginStatus)
			return
		}
		s.mu.Lock()
		access, refresh := s.issue()
		s.mu.Unlock()

		writeEnvelope(w, http.StatusOK, map[string]any{
			"principal": map[string]string{"id": "p1", "username": "alice", "role": "operator"},
			"tokens":    map[string]string{"accessToken": access, "refreshToken": refresh},
		})
	})

	mux.HandleFunc("POST /api/v1/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)
		if s.refreshDelay > 0 {
			time.Sleep(s.refreshDelay)
		}
		if s.refreshStatus != 0 {
			w.WriteHeader(s.refreshStatus)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if r.Header.Get("X-Refresh-Token") != s.validRefresh {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		access, refresh := s.issue()
		writeEnvelope(w, http.StatusOK, map[string]any{
			"tokens": map[string]string{"accessToken": access, "refreshToken": refresh},
			"role":   "operator",
		})
	})

	mux.HandleFunc("GET /api/resource", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		valid := "Bearer " + s.validAccess
		s.mu.Unlock()
		if r.Header.Get("Authorization") != valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func newTestClient(t *testing.T, srv *fakeAuthServer, onExpired func()) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	c, err := New(Config{BaseURL: ts.URL, OnSessionExpired: onExpired})
	require.NoError(t, err)
	return c, ts
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	srv := newFakeAuthServer()
	c, _ := newTestClient(t, srv, nil)

	principal, err := c.Login(context.Background(), "alice", "SecurePass123")

	require.NoError(t, err)
	assert.Equal(t, "alice", principal.Username)
	assert.Equal(t, "operator", principal.Role)
	assert.NotEmpty(t, c.AccessToken())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	srv := newFakeAuthServer()
	srv.loginStatus = http.StatusUnauthorized
	c, _ := newTestClient(t, srv, nil)

	_, err := c.Login(context.Background(), "alice", "wrong")

	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Empty(t, c.AccessToken())
}

// --- Do ---

func TestDo_NoSession(t *testing.T) {
	srv := newFakeAuthServer()
	c, ts := newTestClient(t, srv, nil)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/resource", nil)
	require.NoError(t, err)

	_, err = c.Do(req)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestDo_AttachesToken(t *testing.T) {
	srv := newFakeAuthServer()
	c, ts := newTestClient(t, srv, nil)

	_, err := c.Login(context.Background(), "alice", "SecurePass123")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/resource", nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(0), srv.refreshCalls.Load())
}

func TestDo_RefreshesOnUnauthorized(t *testing.T) {
	srv := newFakeAuthServer()
	c, ts := newTestClient(t, srv, nil)

	_, err := c.Login(context.Background(), "alice", "SecurePass123")
	require.NoError(t, err)

	// Expire the access token server-side; the refresh token stays valid.
	srv.mu.Lock()
	srv.validAccess = "rotated-away"
	srv.mu.Unlock()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/resource", nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), srv.refreshCalls.Load())
}

func TestDo_ConcurrentExpiry_SingleRefresh(t *testing.T) {
	srv := newFakeAuthServer()
	srv.refreshDelay = 100 * time.Millisecond
	c, ts := newTestClient(t, srv, nil)

	_, err := c.Login(context.Background(), "alice", "SecurePass123")
	require.NoError(t, err)

	srv.mu.Lock()
	srv.validAccess = "rotated-away"
	srv.mu.Unlock()

	// Many requests hit the expired token at once; they must collapse into
	// one refresh call whose result every request reuses.
	const n = 5
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/resource", nil)
			if err != nil {
				errCh <- err
				return
			}
			resp, err := c.Do(req)
			if err != nil {
				errCh <- err
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errCh <- fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent request failed: %v", err)
	}
	assert.Equal(t, int64(1), srv.refreshCalls.Load(), "expected exactly one refresh call")
}

// --- Terminal session death ---

func TestDo_RefreshRejected_SessionExpires(t *testing.T) {
	srv := newFakeAuthServer()
	var expiredCalls atomic.Int64
	c, ts := newTestClient(t, srv, func() { expiredCalls.Add(1) })

	_, err := c.Login(context.Background(), "alice", "SecurePass123")
	require.NoError(t, err)

	srv.mu.Lock()
	srv.validAccess = "rotated-away"
	srv.mu.Unlock()
	srv.refreshStatus = http.StatusForbidden

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/resource", nil)
	require.NoError(t, err)

	_, err = c.Do(req)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int64(1), expiredCalls.Load())

	// Subsequent requests fail fast without touching the network.
	before := srv.refreshCalls.Load()
	req2, err := http.NewRequest(http.MethodGet, ts.URL+"/api/resource", nil)
	require.NoError(t, err)
	_, err = c.Do(req2)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, before, srv.refreshCalls.Load())
}

func TestDo_ConcurrentRefreshRejected_AllWaitersFail(t *testing.T) {
	srv := newFakeAuthServer()
	srv.refreshDelay = 100 * time.Millisecond
	srv.refreshStatus = http.StatusForbidden
	var expiredCalls atomic.Int64
	c, ts := newTestClient(t, srv, func() { expiredCalls.Add(1) })

	_, err := c.Login(context.Background(), "alice", "SecurePass123")
	require.NoError(t, err)

	srv.mu.Lock()
	srv.validAccess = "rotated-away"
	srv.mu.Unlock()

	const n = 4
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, rErr := http.NewRequest(http.MethodGet, ts.URL+"/api/resource", nil)
			if rErr != nil {
				results <- rErr
				return
			}
			_, doErr := c.Do(req)
			results <- doErr
		}()
	}
	wg.Wait()
	close(results)

	for err := range results {
		assert.ErrorIs(t, err, ErrSessionExpired)
	}
	assert.Equal(t, int64(1), expiredCalls.Load(), "expiry callback fires once")
}

func TestLogin_AfterExpiry_RestoresSession(t *testing.T) {
	srv := newFakeAuthServer()
	c, ts := newTestClient(t, srv, nil)

	_, err := c.Login(context.Background(), "alice", "SecurePass123")
	require.NoError(t, err)

	srv.mu.Lock()
	srv.validAccess = "rotated-away"
	srv.mu.Unlock()
	srv.refreshStatus = http.StatusForbidden

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/resource", nil)
	require.NoError(t, err)
	_, err = c.Do(req)
	require.ErrorIs(t, err, ErrSessionExpired)

	// A new login clears the terminal state.
	srv.refreshStatus = 0
	_, err = c.Login(context.Background(), "alice", "SecurePass123")
	require.NoError(t, err)

	req2, err := http.NewRequest(http.MethodGet, ts.URL+"/api/resource", nil)
	require.NoError(t, err)
	resp, err := c.Do(req2)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDo_RetryReplaysBody(t *testing.T) {
	srv := newFakeAuthServer()

	// Echo endpoint that requires the current access token.
	mux := srv.handler().(*http.ServeMux)
	mux.HandleFunc("POST /api/echo", func(w http.ResponseWriter, r *http.Request) {
		srv.mu.Lock()
		valid := "Bearer " + srv.validAccess
		srv.mu.Unlock()
		if r.Header.Get("Authorization") != valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeEnvelope(w, http.StatusOK, body)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	c, err := New(Config{BaseURL: ts.URL})
	require.NoError(t, err)

	_, err = c.Login(context.Background(), "alice", "SecurePass123")
	require.NoError(t, err)

	srv.mu.Lock()
	srv.validAccess = "rotated-away"
	srv.mu.Unlock()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/echo", strings.NewReader(`{"key":"value"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "value", out.Data["key"])
}
