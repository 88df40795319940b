package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services"
	"github.com/upb/model-control-plane/services/users"
	"github.com/upb/model-control-plane/utils"
	"go.uber.org/zap"
)

// UserService manages the credential store
type UserService interface {
	Create(ctx context.Context, in users.CreateUserInput) (*users.Credentials, error)
	Delete(ctx context.Context, username string) error
	IssueNewKey(ctx context.Context, username string) (string, error)
	IssueNewPassword(ctx context.Context, username, candidate string) (string, error)
	GetRole(ctx context.Context, username string) (models.UserRole, error)
	UpdateRole(ctx context.Context, username string, role models.UserRole) error
	List(ctx context.Context) ([]models.UserSummary, error)
}

// UserHandler handles user administration requests
type UserHandler struct {
	service UserService
	audit   AuditRecorder
	logger  *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(service UserService, audit AuditRecorder, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		service: service,
		audit:   audit,
		logger:  logger,
	}
}

// CreateUserRequest describes a new user. Omitted secrets are generated.
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,username"`
	Role     string `json:"role" validate:"required,role"`
	APIKey   string `json:"api_key,omitempty" validate:"omitempty,max=72"`
	Password string `json:"password,omitempty"`
}

// IssuePasswordRequest carries an optional candidate password
type IssuePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// UpdateRoleRequest carries the role to assign
type UpdateRoleRequest struct {
	NewRole string `json:"new_role" validate:"required,role"`
}

// APIKeyResponse returns a freshly issued key
type APIKeyResponse struct {
	Username string `json:"username"`
	APIKey   string `json:"api_key"`
}

// PasswordResponse returns the password now in effect
type PasswordResponse struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RoleResponse reports the role of a user
type RoleResponse struct {
	Username string          `json:"username"`
	Role     models.UserRole `json:"role"`
}

// HandleCreateUser handles POST /users/create
func (h *UserHandler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateUserRequest
	if err := decodeRequest(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	creds, err := h.service.Create(r.Context(), users.CreateUserInput{
		Username: req.Username,
		Role:     models.UserRole(req.Role),
		APIKey:   req.APIKey,
		Password: req.Password,
	})
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	recordAudit(h.audit, r, h.logger,
		models.NewAuditLog(*principal, models.AuditActionUserCreated, "user", creds.Username).
			WithDetails(map[string]string{"role": string(creds.Role)}))

	w.Header().Set("Cache-Control", "no-store")
	_ = utils.WriteCreated(w, creds)
}

// HandleDeleteUser handles DELETE /users/delete/{username}
func (h *UserHandler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r, h.logger)
	if !ok {
		return
	}
	username, err := usernameParam(r)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	if err = h.service.Delete(r.Context(), username); err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	recordAudit(h.audit, r, h.logger, models.NewAuditLog(*principal, models.AuditActionUserDeleted, "user", username))
	_ = utils.WriteSuccess(w)
}

// HandleIssueAPIKey handles PUT /users/api_key/issue/{username}
func (h *UserHandler) HandleIssueAPIKey(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r, h.logger)
	if !ok {
		return
	}
	username, err := usernameParam(r)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	key, err := h.service.IssueNewKey(r.Context(), username)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	recordAudit(h.audit, r, h.logger, models.NewAuditLog(*principal, models.AuditActionAPIKeyIssued, "user", username))

	w.Header().Set("Cache-Control", "no-store")
	_ = utils.WriteOK(w, APIKeyResponse{Username: username, APIKey: key})
}

// HandleIssuePassword handles PUT /users/password/issue/{username}. An empty
// new_password generates one.
func (h *UserHandler) HandleIssuePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r, h.logger)
	if !ok {
		return
	}
	username, err := usernameParam(r)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	var req IssuePasswordRequest
	if err = decodeRequest(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	password, err := h.service.IssueNewPassword(r.Context(), username, req.NewPassword)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	recordAudit(h.audit, r, h.logger,
		models.NewAuditLog(*principal, models.AuditActionPasswordIssued, "user", username).
			WithDetails(map[string]bool{"generated": req.NewPassword == ""}))

	w.Header().Set("Cache-Control", "no-store")
	_ = utils.WriteOK(w, PasswordResponse{Username: username, Password: password})
}

// HandleGetRole handles GET /users/role/{username}
func (h *UserHandler) HandleGetRole(w http.ResponseWriter, r *http.Request) {
	username, err := usernameParam(r)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	role, err := h.service.GetRole(r.Context(), username)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, RoleResponse{Username: username, Role: role})
}

// HandleUpdateRole handles PUT /users/role/{username}
func (h *UserHandler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r, h.logger)
	if !ok {
		return
	}
	username, err := usernameParam(r)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	var req UpdateRoleRequest
	if err = decodeRequest(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	role := models.UserRole(req.NewRole)
	if err = h.service.UpdateRole(r.Context(), username, role); err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	recordAudit(h.audit, r, h.logger,
		models.NewAuditLog(*principal, models.AuditActionRoleUpdated, "user", username).
			WithDetails(map[string]string{"role": string(role)}))
	_ = utils.WriteOK(w, RoleResponse{Username: username, Role: role})
}

// HandleListUsers handles GET /users/list
func (h *UserHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	if list == nil {
		list = []models.UserSummary{}
	}
	_ = utils.WriteOK(w, list)
}

// usernameParam rejects malformed path usernames before they reach the store
func usernameParam(r *http.Request) (string, error) {
	username := chi.URLParam(r, "username")
	if !utils.ValidUsername(username) {
		return "", services.ErrInvalidInput.WithMessage("invalid username").WithDetail("username", username)
	}
	return username, nil
}
