package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/astroxblogs/authgate/internal/auth"
	"github.com/astroxblogs/authgate/internal/domain"
	"github.com/astroxblogs/authgate/internal/event"
	"github.com/astroxblogs/authgate/internal/repository"
	apperrors "github.com/astroxblogs/authgate/pkg/errors"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// Revocation triggers recorded on session_revoked events and metrics.
const (
	RevokeTriggerLogout       = "logout"
	RevokeTriggerMismatch     = "mismatch"
	RevokeTriggerDeactivation = "deactivation"
)

// SessionService implements the session/token lifecycle: login issuance,
// per-request verification, refresh rotation, and revocation. It is the only
// writer of the refresh_token_hash field besides the admin deactivation path.
type SessionService struct {
	principals repository.PrincipalRepository
	tokens     *auth.TokenManager
	producer   *event.Producer
	logger     *slog.Logger
}

// NewSessionService creates a new session service. producer may be nil, in
// which case lifecycle events are not published.
func NewSessionService(
	principals repository.PrincipalRepository,
	tokens *auth.TokenManager,
	producer *event.Producer,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		principals: principals,
		tokens:     tokens,
		producer:   producer,
		logger:     logger,
	}
}

// LoginInput holds the parameters for login.
type LoginInput struct {
	Username string
	Password string
}

// HashToken returns the SHA-256 hex digest of a raw token. Only this digest
// is ever persisted; the plaintext refresh token exists solely in transit
// and on the client.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// hashEqual compares two hex digests in constant time.
func hashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Login authenticates a principal and issues a fresh token pair, storing the
// digest of the new refresh token. Any previous session is replaced: the
// store holds at most one valid digest per principal.
func (s *SessionService) Login(ctx context.Context, input LoginInput) (*domain.Principal, *domain.TokenPair, error) {
	if input.Username == "" {
		return nil, nil, apperrors.InvalidInput("username is required")
	}
	if input.Password == "" {
		return nil, nil, apperrors.InvalidInput("password is required")
	}

	principal, err := s.principals.GetByUsername(ctx, input.Username)
	if err != nil {
		loginsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, nil, apperrors.Unauthorized("invalid username or password")
	}

	if !principal.IsActive {
		loginsTotal.WithLabelValues("inactive").Inc()
		return nil, nil, apperrors.Unauthorized("account is deactivated")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(input.Password)); err != nil {
		loginsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, nil, apperrors.Unauthorized("invalid username or password")
	}

	pair, err := s.tokens.IssuePair(principal.ID, principal.Role)
	if err != nil {
		return nil, nil, fmt.Errorf("issue token pair: %w", err)
	}

	if err := s.principals.SetRefreshHash(ctx, principal.ID, HashToken(pair.RefreshToken)); err != nil {
		return nil, nil, fmt.Errorf("store refresh hash: %w", err)
	}

	loginsTotal.WithLabelValues("success").Inc()
	s.logger.InfoContext(ctx, "principal logged in",
		slog.String("principal_id", principal.ID),
		slog.String("role", string(principal.Role)),
	)

	return principal, pair, nil
}

// VerifyAccess validates a bearer access token and loads the identity it
// names. All failures collapse to 401 so the client treats any 401 outside
// login/refresh as "attempt refresh"; the distinction between a bad
// signature and an expired token is deliberately not exposed.
//
// IsActive is not re-checked here: deactivation is enforced on the refresh
// path only, bounding post-deactivation exposure to the access-token TTL.
func (s *SessionService) VerifyAccess(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, apperrors.Auth(apperrors.ErrAuthMissing, "AUTH_MISSING", http.StatusUnauthorized)
	}

	claims, err := s.tokens.ValidateAccessToken(token)
	if err != nil {
		return nil, apperrors.Auth(apperrors.ErrAuthInvalid, "AUTH_INVALID", http.StatusUnauthorized)
	}

	principal, err := s.principals.GetByID(ctx, claims.PrincipalID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Auth(apperrors.ErrAuthPrincipalMissing, "AUTH_PRINCIPAL_MISSING", http.StatusUnauthorized)
		}
		return nil, fmt.Errorf("load principal: %w", err)
	}

	return &domain.Identity{ID: principal.ID, Role: principal.Role}, nil
}

// Refresh validates a presented refresh token and rotates the session:
// exactly one successful rotation per issued token. The state machine is
// extract → verify signature → load principal → check active → match hash →
// rotate. A digest mismatch is treated as suspected replay and defensively
// revokes the stored session before failing.
//
// All failures except a missing token return 403, signalling the client to
// stop refreshing and re-authenticate.
func (s *SessionService) Refresh(ctx context.Context, token string) (*domain.TokenPair, domain.Role, error) {
	if token == "" {
		refreshFailuresTotal.WithLabelValues("missing").Inc()
		return nil, "", apperrors.Auth(apperrors.ErrAuthMissing, "AUTH_MISSING", http.StatusUnauthorized)
	}

	claims, err := s.tokens.ValidateRefreshToken(token)
	if err != nil {
		refreshFailuresTotal.WithLabelValues("invalid").Inc()
		return nil, "", apperrors.Auth(apperrors.ErrAuthInvalid, "AUTH_INVALID", http.StatusForbidden)
	}

	principal, err := s.principals.GetByID(ctx, claims.PrincipalID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			refreshFailuresTotal.WithLabelValues("principal_missing").Inc()
			return nil, "", apperrors.Auth(apperrors.ErrAuthPrincipalMissing, "AUTH_PRINCIPAL_MISSING", http.StatusForbidden)
		}
		return nil, "", fmt.Errorf("load principal: %w", err)
	}

	if !principal.IsActive {
		refreshFailuresTotal.WithLabelValues("inactive").Inc()
		return nil, "", apperrors.Auth(apperrors.ErrAuthInactive, "AUTH_INACTIVE", http.StatusForbidden)
	}

	presented := HashToken(token)
	if !principal.HasSession() || !hashEqual(*principal.RefreshTokenHash, presented) {
		return nil, "", s.revokeOnMismatch(ctx, principal.ID)
	}

	pair, err := s.tokens.IssuePair(principal.ID, principal.Role)
	if err != nil {
		return nil, "", fmt.Errorf("issue token pair: %w", err)
	}

	// Compare-and-swap: persist the new digest only if the one we just
	// verified is still stored. Losing this race means a concurrent refresh
	// already rotated, so the presented token is spent.
	err = s.principals.RotateRefreshHash(ctx, principal.ID, presented, HashToken(pair.RefreshToken))
	if err != nil {
		if errors.Is(err, apperrors.ErrAuthMismatch) {
			return nil, "", s.revokeOnMismatch(ctx, principal.ID)
		}
		return nil, "", fmt.Errorf("rotate refresh hash: %w", err)
	}

	refreshRotationsTotal.Inc()
	s.logger.InfoContext(ctx, "session rotated",
		slog.String("principal_id", principal.ID),
	)

	return pair, principal.Role, nil
}

// revokeOnMismatch clears the stored session after a digest mismatch and
// returns the AUTH_MISMATCH error. Clearing is best-effort: the 403 response
// is returned even if the revocation write fails.
func (s *SessionService) revokeOnMismatch(ctx context.Context, principalID string) error {
	if err := s.principals.ClearRefreshHash(ctx, principalID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke session on mismatch",
			slog.String("principal_id", principalID),
			slog.String("error", err.Error()),
		)
	}
	refreshFailuresTotal.WithLabelValues("mismatch").Inc()
	revocationsTotal.WithLabelValues(RevokeTriggerMismatch).Inc()
	s.publishRevoked(ctx, principalID, RevokeTriggerMismatch)

	s.logger.WarnContext(ctx, "refresh token mismatch, session revoked",
		slog.String("principal_id", principalID),
	)
	return apperrors.Auth(apperrors.ErrAuthMismatch, "AUTH_MISMATCH", http.StatusForbidden)
}

// Logout ends the session named by the presented refresh token. It is
// best-effort and never fails: an absent, invalid, or already-rotated token
// simply results in no store change.
func (s *SessionService) Logout(ctx context.Context, token string) {
	if token == "" {
		return
	}

	claims, err := s.tokens.ValidateRefreshToken(token)
	if err != nil {
		return
	}

	if err := s.principals.ClearRefreshHashIfMatch(ctx, claims.PrincipalID, HashToken(token)); err != nil {
		s.logger.ErrorContext(ctx, "logout revocation failed",
			slog.String("principal_id", claims.PrincipalID),
			slog.String("error", err.Error()),
		)
		return
	}

	revocationsTotal.WithLabelValues(RevokeTriggerLogout).Inc()
	s.publishRevoked(ctx, claims.PrincipalID, RevokeTriggerLogout)

	s.logger.InfoContext(ctx, "principal logged out",
		slog.String("principal_id", claims.PrincipalID),
	)
}

func (s *SessionService) publishRevoked(ctx context.Context, principalID, trigger string) {
	if s.producer == nil {
		return
	}
	if err := s.producer.PublishSessionRevoked(ctx, principalID, trigger); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish session_revoked event",
			slog.String("principal_id", principalID),
			slog.String("error", err.Error()),
		)
	}
}
