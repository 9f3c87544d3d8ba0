// Package authclient is the Go client for the auth service. It manages the
// session token pair transparently: requests carry the access token, a 401
// triggers a refresh, and concurrent expiries collapse into a single
// refresh-token call whose outcome is shared by every waiting request.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"
)

// Sentinel errors returned by the client.
var (
	// ErrInvalidCredentials is returned by Login when the service rejects
	// the username/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionExpired is returned once the session is terminally dead: a
	// refresh was rejected and no further refresh attempts will be made
	// until the next Login.
	ErrSessionExpired = errors.New("session expired, login required")

	// ErrNoSession is returned by Do before any successful Login.
	ErrNoSession = errors.New("no active session")
)

// Config holds client configuration.
type Config struct {
	// BaseURL is the root of the auth service, e.g. "https://cms.example.com".
	BaseURL string

	// Timeout bounds each HTTP request. Defaults to 30s.
	Timeout time.Duration

	// OnSessionExpired, if set, is called exactly once when the session
	// becomes terminally dead. Typical use is prompting for re-login.
	OnSessionExpired func()
}

type refreshResult struct {
	token string
	err   error
}

// Client is an HTTP client that authenticates requests against the auth
// service and keeps the session alive by rotating the refresh token.
//
// All session state is guarded by mu. At most one refresh request is in
// flight at any time; requests that hit a 401 while a refresh is running
// queue as waiters and are released in FIFO order with the shared outcome.
type Client struct {
	baseURL string
	http    *http.Client

	onSessionExpired func()

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	refreshing   bool
	waiters      []chan refreshResult
	terminal     bool
}

// New creates a client for the auth service at cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("authclient: BaseURL is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	// The jar carries the httpOnly refresh cookie for parity with browser
	// clients; the X-Refresh-Token header below is the fallback transport
	// and keeps the client working when cookies are stripped by a proxy.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("authclient: create cookie jar: %w", err)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			Jar:       jar,
		},
		onSessionExpired: cfg.OnSessionExpired,
	}, nil
}

// --- Wire types, matching the service envelope ---

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *apiError       `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Principal describes the logged-in identity.
type Principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type loginData struct {
	Principal Principal `json:"principal"`
	Tokens    tokenPair `json:"tokens"`
}

type refreshData struct {
	Tokens tokenPair `json:"tokens"`
	Role   string    `json:"role"`
}

// Login authenticates and establishes a session. A 401 means bad
// credentials and is terminal for this attempt only: a later Login may
// succeed.
func (c *Client) Login(ctx context.Context, username, password string) (*Principal, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("authclient: marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("authclient: create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authclient: login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidCredentials
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("authclient: decode login response: %w", err)
	}
	var data loginData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("authclient: decode login data: %w", err)
	}

	c.mu.Lock()
	c.accessToken = data.Tokens.AccessToken
	c.refreshToken = data.Tokens.RefreshToken
	c.terminal = false
	c.mu.Unlock()

	return &data.Principal, nil
}

// Logout revokes the current session on the service and clears local state.
// It never fails due to session state: an already-dead session is fine.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refreshToken
	c.accessToken = ""
	c.refreshToken = ""
	c.terminal = false
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/logout", nil)
	if err != nil {
		return fmt.Errorf("authclient: create logout request: %w", err)
	}
	if refresh != "" {
		req.Header.Set("X-Refresh-Token", refresh)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("authclient: logout request: %w", err)
	}
	resp.Body.Close()
	return nil
}

// AccessToken returns the current access token, for callers that attach it
// to requests outside this client.
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// Do executes req with the session access token attached. On a 401 it
// refreshes the session (joining an in-flight refresh if one is running)
// and retries the request once with the new token.
//
// Requests with a body must have GetBody set for the retry to be possible;
// http.NewRequest sets it for the common body types.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	if c.terminal {
		c.mu.Unlock()
		return nil, ErrSessionExpired
	}
	token := c.accessToken
	c.mu.Unlock()

	if token == "" {
		return nil, ErrNoSession
	}

	resp, err := c.do(req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	token, err = c.refresh(req.Context())
	if err != nil {
		return nil, err
	}

	retry, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	return c.do(retry, token)
}

func (c *Client) do(req *http.Request, token string) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authclient: request: %w", err)
	}
	return resp, nil
}

// refresh obtains a fresh access token, collapsing concurrent callers into
// a single refresh-token request. The first caller through becomes the
// leader and performs the HTTP call; everyone else waits for its outcome.
func (c *Client) refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.terminal {
		c.mu.Unlock()
		return "", ErrSessionExpired
	}

	if c.refreshing {
		ch := make(chan refreshResult, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	c.refreshing = true
	refreshToken := c.refreshToken
	c.mu.Unlock()

	token, err := c.doRefresh(ctx, refreshToken)

	c.mu.Lock()
	c.refreshing = false
	if err == nil {
		res := refreshResult{token: token}
		for _, ch := range c.waiters {
			ch <- res
		}
		c.waiters = nil
		c.mu.Unlock()
		return token, nil
	}

	// A rejected refresh kills the session for good; transient transport
	// errors leave it intact so a later request can try again.
	terminal := errors.Is(err, ErrSessionExpired)
	if terminal {
		c.terminal = true
		c.accessToken = ""
		c.refreshToken = ""
	}
	res := refreshResult{err: err}
	for _, ch := range c.waiters {
		ch <- res
	}
	c.waiters = nil
	c.mu.Unlock()

	if terminal && c.onSessionExpired != nil {
		c.onSessionExpired()
	}
	return "", err
}

// doRefresh performs the refresh-token HTTP call and updates the stored
// pair on success. A 401 or 403 means the session is dead.
func (c *Client) doRefresh(ctx context.Context, refreshToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/refresh-token", nil)
	if err != nil {
		return "", fmt.Errorf("authclient: create refresh request: %w", err)
	}
	if refreshToken != "" {
		req.Header.Set("X-Refresh-Token", refreshToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("authclient: refresh request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrSessionExpired
	default:
		return "", unexpectedStatus(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("authclient: decode refresh response: %w", err)
	}
	var data refreshData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("authclient: decode refresh data: %w", err)
	}

	c.mu.Lock()
	c.accessToken = data.Tokens.AccessToken
	c.refreshToken = data.Tokens.RefreshToken
	c.mu.Unlock()

	return data.Tokens.AccessToken, nil
}

// cloneRequest produces a retryable copy of req, rewinding the body via
// GetBody when one is present.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("authclient: cannot retry request without GetBody")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("authclient: rewind request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

func unexpectedStatus(resp *http.Response) error {
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error != nil {
		return fmt.Errorf("authclient: %s: %s (status %d)", env.Error.Code, env.Error.Message, resp.StatusCode)
	}
	return fmt.Errorf("authclient: unexpected status %d", resp.StatusCode)
}
