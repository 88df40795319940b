package handlers

import (
	"context"
	"net/http"

	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services/system"
	"github.com/upb/model-control-plane/utils"
	"go.uber.org/zap"
)

// SystemService reports host usage and restarts the process
type SystemService interface {
	ResourceUsage(ctx context.Context) (*system.ResourceUsage, error)
	Reset()
}

// SystemHandler handles process and host administration requests
type SystemHandler struct {
	system SystemService
	audit  AuditRecorder
	logger *zap.Logger
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(system SystemService, audit AuditRecorder, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{
		system: system,
		audit:  audit,
		logger: logger,
	}
}

// HandleReset handles POST /reset. The process terminates shortly after the response.
func (h *SystemHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r, h.logger)
	if !ok {
		return
	}

	recordAudit(h.audit, r, h.logger, models.NewAuditLog(*principal, models.AuditActionProcessReset, "process", ""))
	h.system.Reset()

	if err := utils.WriteSuccess(w); err != nil {
		h.logger.Error("failed to write reset response", zap.Error(err))
		return
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// HandleResourceUsage handles GET /system/resource-usage
func (h *SystemHandler) HandleResourceUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.system.ResourceUsage(r.Context())
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, usage)
}
