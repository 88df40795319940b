package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/upb/model-control-plane/middleware"
	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services"
	"github.com/upb/model-control-plane/utils"
	"go.uber.org/zap"
)

// AuditRecorder accepts audit entries for asynchronous persistence
type AuditRecorder interface {
	LogEvent(log *models.AuditLog) error
}

// decodeRequest decodes a JSON body into dst and validates it
func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if err := utils.DecodeJSON(w, r, dst); err != nil {
		return err
	}
	return utils.ValidateStruct(dst)
}

// requirePrincipal returns the authenticated principal, answering 401 when the
// route was mounted without authentication
func requirePrincipal(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*models.Principal, bool) {
	p := middleware.GetPrincipalFromContext(r.Context())
	if p == nil {
		HandleServiceError(w, r, services.ErrUnauthenticated, logger)
		return nil, false
	}
	return p, true
}

// pathParam returns the unescaped value of a route parameter. chi matches on
// the raw path, so an encoded slash arrives as %2F.
func pathParam(r *http.Request, key string) (string, error) {
	raw := chi.URLParam(r, key)
	value, err := url.PathUnescape(raw)
	if err != nil {
		return "", services.ErrInvalidInput.WithMessage("malformed path parameter").WithDetail(key, raw)
	}
	return value, nil
}

// modelKeyFromPath reads {name}/{flavor}/{version_or_alias}
func modelKeyFromPath(r *http.Request) (models.ModelKey, error) {
	var parts [3]string
	for i, key := range []string{"name", "flavor", "version_or_alias"} {
		v, err := pathParam(r, key)
		if err != nil {
			return models.ModelKey{}, err
		}
		parts[i] = v
	}
	name, rawFlavor, version := parts[0], parts[1], parts[2]
	if name == "" || version == "" {
		return models.ModelKey{}, services.ErrInvalidInput.WithMessage("model name and version or alias are required")
	}

	flavor, err := models.ParseFlavor(rawFlavor)
	if err != nil {
		return models.ModelKey{}, services.ErrInvalidFlavor.WithDetail("flavor", rawFlavor)
	}
	return models.ModelKey{Name: name, Flavor: flavor, VersionOrAlias: version}, nil
}

// recordAudit hands an entry to the audit pipeline. A nil recorder disables auditing.
func recordAudit(recorder AuditRecorder, r *http.Request, logger *zap.Logger, entry *models.AuditLog) {
	if recorder == nil {
		return
	}
	requestID := middleware.GetRequestIDFromContext(r.Context())
	entry.WithRequest(requestID, r.RemoteAddr)
	if err := recorder.LogEvent(entry); err != nil {
		logger.Warn("failed to record audit event",
			zap.String("request_id", requestID),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
	}
}
