package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services"
	"github.com/upb/model-control-plane/utils"
	"go.uber.org/zap"
)

// AuditLister reads the audit trail
type AuditLister interface {
	List(ctx context.Context, actor string, limit, offset int) ([]*models.AuditLog, error)
}

// AuditHandler serves the audit trail
type AuditHandler struct {
	audit  AuditLister
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(audit AuditLister, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// HandleListAuditLogs handles GET /audit/logs?limit=&offset=&actor=
func (h *AuditHandler) HandleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intQuery(q.Get("limit"))
	if err != nil {
		HandleServiceError(w, r, services.ErrInvalidInput.WithMessage("limit must be an integer"), h.logger)
		return
	}
	offset, err := intQuery(q.Get("offset"))
	if err != nil {
		HandleServiceError(w, r, services.ErrInvalidInput.WithMessage("offset must be an integer"), h.logger)
		return
	}

	logs, err := h.audit.List(r.Context(), q.Get("actor"), limit, offset)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	_ = utils.WriteOK(w, logs)
}

func intQuery(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
