package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/astroxblogs/authgate/internal/domain"
	"github.com/astroxblogs/authgate/internal/service"
	apperrors "github.com/astroxblogs/authgate/pkg/errors"
	"github.com/astroxblogs/authgate/pkg/httputil"
	"github.com/astroxblogs/authgate/pkg/validator"
)

// AdminHandler handles HTTP requests for operator administration. All of its
// routes sit behind the admin role guard.
type AdminHandler struct {
	admin  *service.AdminService
	logger *slog.Logger
}

// NewAdminHandler creates a new admin HTTP handler.
func NewAdminHandler(admin *service.AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logger}
}

// --- Request DTOs ---

// CreateOperatorRequest is the JSON request body for operator creation.
type CreateOperatorRequest struct {
	Username string `json:"username" validate:"required,min=3,max=100"`
	Password string `json:"password" validate:"required,min=8"`
}

// SetActiveRequest is the JSON request body for the activation toggle.
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// UpdateCredentialsRequest is the JSON request body for credential updates.
// Both fields are optional; omitted fields are left unchanged.
type UpdateCredentialsRequest struct {
	Username *string `json:"username" validate:"omitempty,min=3,max=100"`
	Password *string `json:"password" validate:"omitempty,min=8"`
}

// OperatorResponse is the admin-facing shape of a principal.
type OperatorResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	IsActive  bool   `json:"isActive"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func operatorResponse(p *domain.Principal) OperatorResponse {
	return OperatorResponse{
		ID:        p.ID,
		Username:  p.Username,
		Role:      string(p.Role),
		IsActive:  p.IsActive,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.Format(time.RFC3339),
	}
}

// --- Handlers ---

// CreateOperator handles POST /api/v1/operators
func (h *AdminHandler) CreateOperator(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req CreateOperatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body: "+err.Error()), h.logger)
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	principal, err := h.admin.CreateOperator(r.Context(), service.CreateOperatorInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: operatorResponse(principal)})
}

// SetActive handles PATCH /api/v1/operators/{id}/active
func (h *AdminHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body: "+err.Error()), h.logger)
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	principal, err := h.admin.SetActive(r.Context(), id, *req.Active)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: operatorResponse(principal)})
}

// UpdateCredentials handles PUT /api/v1/operators/{id}/credentials
func (h *AdminHandler) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req UpdateCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body: "+err.Error()), h.logger)
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if req.Username == nil && req.Password == nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("at least one of username or password must be provided"), h.logger)
		return
	}

	principal, err := h.admin.UpdateCredentials(r.Context(), id, service.UpdateCredentialsInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: operatorResponse(principal)})
}
