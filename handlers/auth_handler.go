package handlers

import (
	"context"
	"fmt"
	"mime"
	"net/http"

	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services"
	"github.com/upb/model-control-plane/services/auth"
	"github.com/upb/model-control-plane/utils"
	"go.uber.org/zap"
)

// PasswordAuthenticator verifies passwords and mints access tokens
type PasswordAuthenticator interface {
	VerifyPassword(ctx context.Context, username, password string) (models.UserRole, error)
	IssueToken(principal models.Principal) (*auth.IssuedToken, error)
	TokenTTL() int64
}

// AuthHandler serves the password-based endpoints
type AuthHandler struct {
	authenticator PasswordAuthenticator
	audit         AuditRecorder
	logger        *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(authenticator PasswordAuthenticator, audit AuditRecorder, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authenticator: authenticator,
		audit:         audit,
		logger:        logger,
	}
}

// TokenResponse is the OAuth2 token response body
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// VerifyPasswordRequest carries the credentials to check
type VerifyPasswordRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// VerifyPasswordResponse reports the role behind verified credentials
type VerifyPasswordResponse struct {
	Username string          `json:"username"`
	Role     models.UserRole `json:"role"`
}

// HandleIssueToken handles POST /token. Credentials come from an OAuth2 password-grant
// form or, failing that, from basic authentication.
func (h *AuthHandler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	username, password, err := tokenCredentials(r)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	role, err := h.authenticator.VerifyPassword(r.Context(), username, password)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	principal := models.Principal{Username: username, Role: role}
	token, err := h.authenticator.IssueToken(principal)
	if err != nil {
		HandleServiceError(w, r, services.WrapInternal("failed to issue access token", err), h.logger)
		return
	}

	recordAudit(h.audit, r, h.logger, models.NewAuditLog(principal, models.AuditActionTokenIssued, "user", username))

	w.Header().Set("Cache-Control", "no-store")
	_ = utils.WriteOK(w, TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresIn:   h.authenticator.TokenTTL(),
	})
}

// HandleVerifyPassword handles POST /password/verify
func (h *AuthHandler) HandleVerifyPassword(w http.ResponseWriter, r *http.Request) {
	var req VerifyPasswordRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if req.Username == "" && req.Password == "" {
		req.Username, req.Password, _ = r.BasicAuth()
	}

	role, err := h.authenticator.VerifyPassword(r.Context(), req.Username, req.Password)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, VerifyPasswordResponse{Username: req.Username, Role: role})
}

func tokenCredentials(r *http.Request) (string, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return "", "", err
		}
		if gt := r.PostForm.Get("grant_type"); gt != "" && gt != "password" {
			return "", "", fmt.Errorf("unsupported grant_type %q", gt)
		}
		if username := r.PostForm.Get("username"); username != "" {
			return username, r.PostForm.Get("password"), nil
		}
	}

	username, password, _ := r.BasicAuth()
	return username, password, nil
}
