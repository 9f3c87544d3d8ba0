package domain

import (
	"time"
)

// Principal represents an authenticated account (admin or operator).
//
// RefreshTokenHash holds the SHA-256 digest of the most recently issued
// refresh token, or nil when no session is active. The single hash field
// enforces one active session per principal: every login and every rotation
// overwrites it, and revocation clears it.
type Principal struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	PasswordHash     string     `json:"-"`
	Role             Role       `json:"role"`
	IsActive         bool       `json:"is_active"`
	RefreshTokenHash *string    `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasSession reports whether the principal currently has an active session.
func (p *Principal) HasSession() bool {
	return p.RefreshTokenHash != nil && *p.RefreshTokenHash != ""
}

// Identity is the authenticated view of a principal attached to a request
// context by the access-token verifier and consumed by downstream handlers.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// TokenPair holds an access and refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
