package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/upb/model-control-plane/internal/observability"
	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services"
	"github.com/upb/model-control-plane/utils"
	"go.uber.org/zap"
)

// CredentialResolver turns presented credentials into a role
type CredentialResolver interface {
	VerifyKey(ctx context.Context, username, key string) (models.UserRole, error)
	VerifyPassword(ctx context.Context, username, password string) (models.UserRole, error)
	ParseToken(token string) (*models.Principal, error)
}

// AuthMiddleware resolves the principal of a request
type AuthMiddleware struct {
	resolver CredentialResolver
	metrics  observability.Metrics
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(resolver CredentialResolver, metrics observability.Metrics, logger *zap.Logger) *AuthMiddleware {
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	return &AuthMiddleware{
		resolver: resolver,
		metrics:  metrics,
		logger:   logger,
	}
}

// RequireKeyOrToken accepts basic credentials carrying an API key, or a bearer access
// token when no basic credentials are present.
func (m *AuthMiddleware) RequireKeyOrToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var (
			principal *models.Principal
			err       error
			scheme    string
		)
		if username, key, ok := r.BasicAuth(); ok && username != "" && key != "" {
			scheme = "basic"
			var role models.UserRole
			role, err = m.resolver.VerifyKey(ctx, username, key)
			if err == nil {
				principal = &models.Principal{Username: username, Role: role}
			}
		} else if token := extractBearerToken(r); token != "" {
			scheme = "bearer"
			principal, err = m.resolver.ParseToken(token)
		} else {
			m.reject(w, r, "missing", services.ErrUnauthenticated.WithMessage("no credentials provided"))
			return
		}

		if err != nil {
			m.reject(w, r, scheme, err)
			return
		}
		m.admit(w, r, next, principal, scheme)
	})
}

// RequirePassword accepts only basic credentials carrying the user's password
func (m *AuthMiddleware) RequirePassword(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username == "" || password == "" {
			m.reject(w, r, "missing", services.ErrUnauthenticated.WithMessage("username and password required"))
			return
		}

		role, err := m.resolver.VerifyPassword(r.Context(), username, password)
		if err != nil {
			m.reject(w, r, "password", err)
			return
		}
		m.admit(w, r, next, &models.Principal{Username: username, Role: role}, "password")
	})
}

func (m *AuthMiddleware) admit(w http.ResponseWriter, r *http.Request, next http.Handler, p *models.Principal, scheme string) {
	m.logger.Debug("authentication successful",
		zap.String("request_id", GetRequestIDFromContext(r.Context())),
		zap.String("username", p.Username),
		zap.String("role", string(p.Role)),
		zap.String("scheme", scheme))
	next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
}

// reject answers 401 for credential failures. Anything else, such as a corrupted
// credential record or a storage failure, is a server error.
func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, reason string, err error) {
	requestID := GetRequestIDFromContext(r.Context())

	if !services.IsUnauthenticatedError(err) {
		m.logger.Error("credential resolution failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		code, message := services.GetErrorCode(err), services.GetErrorMessage(err)
		if code == "" {
			code, message = services.ErrInternal.Code, services.ErrInternal.Message
		}
		_ = utils.WriteError(w, http.StatusInternalServerError, code, message, nil)
		return
	}

	m.metrics.RecordAuthFailure(reason)
	m.logger.Warn("authentication failed",
		zap.String("request_id", requestID),
		zap.String("reason", reason),
		zap.String("code", services.GetErrorCode(err)))
	_ = utils.WriteUnauthorized(w, services.GetErrorCode(err), services.GetErrorMessage(err))
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
