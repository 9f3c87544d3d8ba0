package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/astroxblogs/authgate/internal/domain"
	"github.com/astroxblogs/authgate/internal/event"
	"github.com/astroxblogs/authgate/internal/repository"
	apperrors "github.com/astroxblogs/authgate/pkg/errors"
)

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

// AdminService implements the admin-only principal management operations:
// operator creation, activation toggling, and credential updates.
type AdminService struct {
	principals repository.PrincipalRepository
	producer   *event.Producer
	logger     *slog.Logger
}

// NewAdminService creates a new admin service. producer may be nil, in which
// case lifecycle events are not published.
func NewAdminService(
	principals repository.PrincipalRepository,
	producer *event.Producer,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		principals: principals,
		producer:   producer,
		logger:     logger,
	}
}

// CreateOperatorInput holds the parameters for creating an operator account.
type CreateOperatorInput struct {
	Username string
	Password string
}

// UpdateCredentialsInput holds the parameters for a credential update.
// Nil fields are left unchanged.
type UpdateCredentialsInput struct {
	Username *string
	Password *string
}

// CreateOperator creates a new operator account: active, with no session
// until the operator logs in for the first time.
func (s *AdminService) CreateOperator(ctx context.Context, input CreateOperatorInput) (*domain.Principal, error) {
	if input.Username == "" {
		return nil, apperrors.InvalidInput("username is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	principal := &domain.Principal{
		ID:           uuid.New().String(),
		Username:     input.Username,
		PasswordHash: string(hashedPassword),
		Role:         domain.RoleOperator,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.principals.Create(ctx, principal); err != nil {
		return nil, fmt.Errorf("create principal: %w", err)
	}

	if s.producer != nil {
		if err := s.producer.PublishOperatorCreated(ctx, principal); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish operator_created event",
				slog.String("principal_id", principal.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "operator created",
		slog.String("principal_id", principal.ID),
		slog.String("username", principal.Username),
	)

	return principal, nil
}

// SetActive flips a principal's active flag. Deactivation revokes the
// active session in the same store write; issued access tokens remain valid
// until their own expiry.
func (s *AdminService) SetActive(ctx context.Context, id string, active bool) (*domain.Principal, error) {
	if err := s.principals.SetActive(ctx, id, active); err != nil {
		return nil, err
	}

	principal, err := s.principals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load principal after toggle: %w", err)
	}

	if !active {
		revocationsTotal.WithLabelValues(RevokeTriggerDeactivation).Inc()
		if s.producer != nil {
			if err := s.producer.PublishPrincipalDeactivated(ctx, principal); err != nil {
				s.logger.ErrorContext(ctx, "failed to publish deactivated event",
					slog.String("principal_id", principal.ID),
					slog.String("error", err.Error()),
				)
			}
			if err := s.producer.PublishSessionRevoked(ctx, principal.ID, RevokeTriggerDeactivation); err != nil {
				s.logger.ErrorContext(ctx, "failed to publish session_revoked event",
					slog.String("principal_id", principal.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	s.logger.InfoContext(ctx, "principal active flag updated",
		slog.String("principal_id", principal.ID),
		slog.Bool("active", active),
	)

	return principal, nil
}

// UpdateCredentials changes a principal's username and/or password. The
// active session is deliberately left untouched.
func (s *AdminService) UpdateCredentials(ctx context.Context, id string, input UpdateCredentialsInput) (*domain.Principal, error) {
	if input.Username == nil && input.Password == nil {
		return nil, apperrors.InvalidInput("nothing to update")
	}

	principal, err := s.principals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	username := principal.Username
	if input.Username != nil {
		if *input.Username == "" {
			return nil, apperrors.InvalidInput("username must not be empty")
		}
		username = *input.Username
	}

	passwordHash := principal.PasswordHash
	if input.Password != nil {
		if err := validatePassword(*input.Password); err != nil {
			return nil, err
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		passwordHash = string(hashed)
	}

	if err := s.principals.UpdateCredentials(ctx, id, username, passwordHash); err != nil {
		return nil, err
	}

	principal, err = s.principals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load principal after update: %w", err)
	}

	s.logger.InfoContext(ctx, "credentials updated",
		slog.String("principal_id", principal.ID),
	)

	return principal, nil
}

// validatePassword checks that the password meets minimum complexity requirements.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return apperrors.InvalidInput("password must contain at least one uppercase letter, one lowercase letter, and one digit")
	}

	return nil
}
