package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/astroxblogs/authgate/internal/domain"
	apperrors "github.com/astroxblogs/authgate/pkg/errors"
)

// DB is the subset of pgxpool.Pool used by the repository. It is satisfied
// by *pgxpool.Pool in production and by pgxmock in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PrincipalRepository implements repository.PrincipalRepository using PostgreSQL.
type PrincipalRepository struct {
	db DB
}

// NewPrincipalRepository creates a new PostgreSQL-backed principal repository.
func NewPrincipalRepository(db DB) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

const principalColumns = `id, username, password_hash, role, is_active, refresh_token_hash, created_at, updated_at`

// Create inserts a new principal into the database.
func (r *PrincipalRepository) Create(ctx context.Context, p *domain.Principal) error {
	query := `
		INSERT INTO principals (id, username, password_hash, role, is_active, refresh_token_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		p.ID,
		p.Username,
		p.PasswordHash,
		p.Role,
		p.IsActive,
		p.RefreshTokenHash,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("principal", "username", p.Username)
		}
		return fmt.Errorf("insert principal: %w", err)
	}

	return nil
}

// GetByID retrieves a principal by its ID.
func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1`
	return r.scanPrincipal(ctx, query, id)
}

// GetByUsername retrieves a principal by its username.
func (r *PrincipalRepository) GetByUsername(ctx context.Context, username string) (*domain.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE username = $1`
	return r.scanPrincipal(ctx, query, username)
}

// SetRefreshHash stores a new refresh token digest, replacing any previous
// session unconditionally.
func (r *PrincipalRepository) SetRefreshHash(ctx context.Context, id, hash string) error {
	query := `UPDATE principals SET refresh_token_hash = $2, updated_at = $3 WHERE id = $1`

	ct, err := r.db.Exec(ctx, query, id, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set refresh hash: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("principal", id)
	}
	return nil
}

// RotateRefreshHash replaces the stored digest only if it still equals
// expected. Zero rows affected means another writer got there first (or the
// session was revoked in between); the caller treats that as a mismatch.
func (r *PrincipalRepository) RotateRefreshHash(ctx context.Context, id, expected, next string) error {
	query := `
		UPDATE principals
		SET refresh_token_hash = $3, updated_at = $4
		WHERE id = $1 AND refresh_token_hash = $2`

	ct, err := r.db.Exec(ctx, query, id, expected, next, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rotate refresh hash: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrAuthMismatch
	}
	return nil
}

// ClearRefreshHash unconditionally clears the stored digest.
func (r *PrincipalRepository) ClearRefreshHash(ctx context.Context, id string) error {
	query := `UPDATE principals SET refresh_token_hash = NULL, updated_at = $2 WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("clear refresh hash: %w", err)
	}
	return nil
}

// ClearRefreshHashIfMatch clears the stored digest only when it equals
// expected. Matching nothing is not an error; logout is best-effort.
func (r *PrincipalRepository) ClearRefreshHashIfMatch(ctx context.Context, id, expected string) error {
	query := `
		UPDATE principals
		SET refresh_token_hash = NULL, updated_at = $3
		WHERE id = $1 AND refresh_token_hash = $2`

	if _, err := r.db.Exec(ctx, query, id, expected, time.Now().UTC()); err != nil {
		return fmt.Errorf("clear refresh hash if match: %w", err)
	}
	return nil
}

// SetActive flips the active flag. Deactivation clears the stored digest in
// the same statement, so no refresh can succeed after the flip.
func (r *PrincipalRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `
		UPDATE principals
		SET is_active = $2,
		    refresh_token_hash = CASE WHEN $2 THEN refresh_token_hash ELSE NULL END,
		    updated_at = $3
		WHERE id = $1`

	ct, err := r.db.Exec(ctx, query, id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set principal active: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("principal", id)
	}
	return nil
}

// UpdateCredentials changes username and password hash, leaving the stored
// refresh token digest untouched.
func (r *PrincipalRepository) UpdateCredentials(ctx context.Context, id, username, passwordHash string) error {
	query := `
		UPDATE principals
		SET username = $2, password_hash = $3, updated_at = $4
		WHERE id = $1`

	ct, err := r.db.Exec(ctx, query, id, username, passwordHash, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("principal", "username", username)
		}
		return fmt.Errorf("update credentials: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("principal", id)
	}
	return nil
}

func (r *PrincipalRepository) scanPrincipal(ctx context.Context, query string, arg any) (*domain.Principal, error) {
	var p domain.Principal
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&p.ID,
		&p.Username,
		&p.PasswordHash,
		&p.Role,
		&p.IsActive,
		&p.RefreshTokenHash,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan principal: %w", err)
	}
	return &p, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
