package repository

import (
	"context"

	"github.com/astroxblogs/authgate/internal/domain"
)

// PrincipalRepository defines the credential store consumed by the session
// and admin services. The refresh_token_hash column is written exclusively
// through the hash methods below; Create, GetBy*, SetActive, and
// UpdateCredentials never carry a caller-supplied hash.
type PrincipalRepository interface {
	// Create inserts a new principal into the store.
	Create(ctx context.Context, p *domain.Principal) error

	// GetByID retrieves a principal by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Principal, error)

	// GetByUsername retrieves a principal by its unique username.
	GetByUsername(ctx context.Context, username string) (*domain.Principal, error)

	// SetRefreshHash unconditionally stores a new refresh token digest,
	// replacing any previous session. Used by login.
	SetRefreshHash(ctx context.Context, id, hash string) error

	// RotateRefreshHash replaces the stored digest only if it still equals
	// expected (compare-and-swap). Returns ErrAuthMismatch when the stored
	// value changed between verification and the write, which closes the
	// concurrent-refresh race: exactly one caller wins the rotation.
	RotateRefreshHash(ctx context.Context, id, expected, next string) error

	// ClearRefreshHash unconditionally clears the stored digest. Used by the
	// mismatch branch of refresh (defensive revocation).
	ClearRefreshHash(ctx context.Context, id string) error

	// ClearRefreshHashIfMatch clears the stored digest only when it equals
	// expected. Used by best-effort logout; no error when nothing matches.
	ClearRefreshHashIfMatch(ctx context.Context, id, expected string) error

	// SetActive flips the active flag. Deactivating also clears the stored
	// digest in the same statement so no session survives the flip.
	SetActive(ctx context.Context, id string, active bool) error

	// UpdateCredentials changes username and/or password hash. The stored
	// refresh token digest is left untouched: a credential update does not
	// end the active session.
	UpdateCredentials(ctx context.Context, id, username, passwordHash string) error
}
