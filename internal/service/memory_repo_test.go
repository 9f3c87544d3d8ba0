package service

import (
	"context"
	"sync"
	"time"

	"github.com/astroxblogs/authgate/internal/domain"
	apperrors "github.com/astroxblogs/authgate/pkg/errors"
)

// memoryRepo is an in-memory PrincipalRepository for lifecycle tests that
// need real state transitions instead of canned mock returns.
type memoryRepo struct {
	mu         sync.Mutex
	principals map[string]*domain.Principal
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{principals: make(map[string]*domain.Principal)}
}

func (r *memoryRepo) add(p *domain.Principal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.principals[p.ID] = &cp
}

func (r *memoryRepo) Create(_ context.Context, p *domain.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.principals {
		if existing.Username == p.Username {
			return apperrors.AlreadyExists("principal", "username", p.Username)
		}
	}
	cp := *p
	r.principals[p.ID] = &cp
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[id]
	if !ok {
		return nil, apperrors.NotFound("principal", id)
	}
	cp := *p
	return &cp, nil
}

func (r *memoryRepo) GetByUsername(_ context.Context, username string) (*domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.principals {
		if p.Username == username {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("principal", username)
}

func (r *memoryRepo) SetRefreshHash(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[id]
	if !ok {
		return apperrors.NotFound("principal", id)
	}
	p.RefreshTokenHash = &hash
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memoryRepo) RotateRefreshHash(_ context.Context, id, expected, next string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[id]
	if !ok {
		return apperrors.NotFound("principal", id)
	}
	if p.RefreshTokenHash == nil || *p.RefreshTokenHash != expected {
		return apperrors.ErrAuthMismatch
	}
	p.RefreshTokenHash = &next
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memoryRepo) ClearRefreshHash(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[id]
	if !ok {
		return apperrors.NotFound("principal", id)
	}
	p.RefreshTokenHash = nil
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memoryRepo) ClearRefreshHashIfMatch(_ context.Context, id, expected string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[id]
	if !ok {
		return nil
	}
	if p.RefreshTokenHash != nil && *p.RefreshTokenHash == expected {
		p.RefreshTokenHash = nil
		p.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *memoryRepo) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[id]
	if !ok {
		return apperrors.NotFound("principal", id)
	}
	p.IsActive = active
	if !active {
		p.RefreshTokenHash = nil
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memoryRepo) UpdateCredentials(_ context.Context, id, username, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[id]
	if !ok {
		return apperrors.NotFound("principal", id)
	}
	p.Username = username
	p.PasswordHash = passwordHash
	p.UpdatedAt = time.Now().UTC()
	return nil
}
