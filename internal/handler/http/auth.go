package http

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/astroxblogs/authgate/internal/domain"
	"github.com/astroxblogs/authgate/internal/limiter"
	"github.com/astroxblogs/authgate/internal/service"
	apperrors "github.com/astroxblogs/authgate/pkg/errors"
	"github.com/astroxblogs/authgate/pkg/httputil"
	"github.com/astroxblogs/authgate/pkg/validator"
)

const (
	// refreshCookieName is the cookie carrying the refresh token for
	// browser clients. Non-browser clients use the X-Refresh-Token header
	// or the request body instead.
	refreshCookieName = "refreshToken"

	refreshHeaderName = "X-Refresh-Token"

	maxBodyBytes = 1 << 20 // 1MB
)

// CookieConfig controls the attributes of the refresh cookie.
type CookieConfig struct {
	// Path scopes the cookie to the auth endpoints so the token is not
	// attached to ordinary API traffic.
	Path string
	// MaxAge is the cookie lifetime. It intentionally exceeds the refresh
	// token expiry so the server, not the browser, decides when a session
	// ends; an expired token inside a live cookie fails verification.
	MaxAge time.Duration
	// Secure marks the cookie HTTPS-only. Enabled in production.
	Secure bool
}

// AuthHandler handles HTTP requests for the session endpoints.
type AuthHandler struct {
	sessions *service.SessionService
	limiter  *limiter.LoginLimiter
	cookie   CookieConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler. limiter may be nil, in
// which case login attempts are not throttled.
func NewAuthHandler(sessions *service.SessionService, limiter *limiter.LoginLimiter, cookie CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, limiter: limiter, cookie: cookie, logger: logger}
}

// --- Request DTOs ---

// LoginRequest is the JSON request body for login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=3,max=100"`
	Password string `json:"password" validate:"required"`
}

// RefreshTokenRequest is the JSON request body fallback for token refresh.
// The body is the lowest-priority transport, after cookie and header.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// --- Response types ---

// PrincipalResponse is the public shape of a principal.
type PrincipalResponse struct {
	ID       string      `json:"id"`
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
}

// LoginResponse wraps principal data with the issued token pair.
type LoginResponse struct {
	Principal PrincipalResponse `json:"principal"`
	Tokens    *domain.TokenPair `json:"tokens"`
}

// VerifyResponse reports the identity behind a valid access token.
type VerifyResponse struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role"`
}

// --- Handlers ---

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body: "+err.Error()), h.logger)
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	addr := clientAddr(r)
	if h.limiter != nil {
		allowed, retryAfter, err := h.limiter.Allow(r.Context(), req.Username, addr)
		if err != nil {
			h.logger.WarnContext(r.Context(), "login limiter unavailable", slog.String("error", err.Error()))
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			httputil.WriteError(w, r, &apperrors.AppError{
				Code:    "RATE_LIMITED",
				Message: "too many login attempts, try again later",
				Status:  http.StatusTooManyRequests,
			}, h.logger)
			return
		}
	}

	principal, tokens, err := h.sessions.Login(r.Context(), service.LoginInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if h.limiter != nil {
		if err := h.limiter.Reset(r.Context(), req.Username, addr); err != nil {
			h.logger.WarnContext(r.Context(), "login limiter reset failed", slog.String("error", err.Error()))
		}
	}

	h.setRefreshCookie(w, tokens.RefreshToken)

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: LoginResponse{
			Principal: PrincipalResponse{
				ID:       principal.ID,
				Username: principal.Username,
				Role:     principal.Role,
			},
			Tokens: tokens,
		},
	})
}

// RefreshToken handles POST /api/v1/auth/refresh-token
//
// The refresh token is looked for in cookie, then header, then body, in
// that order; the first non-empty source wins and the rest are ignored.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token := h.extractRefreshToken(w, r)

	tokens, role, err := h.sessions.Refresh(r.Context(), token)
	if err != nil {
		// A rejected refresh ends the session; drop the cookie so browser
		// clients do not keep replaying a dead token.
		if apperrors.HTTPStatus(err) == http.StatusForbidden {
			h.clearRefreshCookie(w)
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.setRefreshCookie(w, tokens.RefreshToken)

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: struct {
			Tokens *domain.TokenPair `json:"tokens"`
			Role   domain.Role       `json:"role"`
		}{Tokens: tokens, Role: role},
	})
}

// Logout handles POST /api/v1/auth/logout
//
// Always responds 204: revocation is best-effort and an absent or invalid
// token still leaves the client logged out.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := h.extractRefreshToken(w, r)

	h.sessions.Logout(r.Context(), token)
	h.clearRefreshCookie(w)

	w.WriteHeader(http.StatusNoContent)
}

// VerifyToken handles GET /api/v1/auth/verify-token
//
// Runs behind the Authenticate middleware; by the time it executes the
// access token has been verified and the principal resolved.
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if identity == nil {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: VerifyResponse{ID: identity.ID, Role: identity.Role},
	})
}

// extractRefreshToken returns the refresh token from the request, checking
// cookie, header, and JSON body in priority order. Returns "" when no
// source carries a token.
func (h *AuthHandler) extractRefreshToken(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(refreshCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	if v := r.Header.Get(refreshHeaderName); v != "" {
		return v
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     h.cookie.Path,
		MaxAge:   int(h.cookie.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     h.cookie.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clientAddr returns the remote host without the port, for rate-limit keys.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
