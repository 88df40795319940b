package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/upb/model-control-plane/services/audit"
	"github.com/upb/model-control-plane/services/registry"
	"github.com/upb/model-control-plane/utils"
	"go.uber.org/zap"
)

// ModelCounter reports how many models are loaded
type ModelCounter interface {
	Len() int
}

// LoadQueue reports the state of the background load workers
type LoadQueue interface {
	GetStats() registry.Stats
}

// AuditQueue reports the state of the audit writers
type AuditQueue interface {
	GetStats() audit.Stats
}

// PoolStatus describes one background worker pool
type PoolStatus struct {
	Started  bool `json:"started"`
	Workers  int  `json:"workers"`
	Pending  int  `json:"pending"`
	Capacity int  `json:"capacity"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string                `json:"status"`
	Timestamp    string                `json:"timestamp"`
	ModelsLoaded *int                  `json:"models_loaded,omitempty"`
	Checks       map[string]string     `json:"checks,omitempty"`
	Pools        map[string]PoolStatus `json:"pools,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db       *sql.DB
	registry ModelCounter
	loads    LoadQueue
	audit    AuditQueue
	logger   *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *sql.DB, registry ModelCounter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:       db,
		registry: registry,
		logger:   logger,
	}
}

// WithPools adds the load queue and audit writers to readiness. Either may be nil.
func (h *HealthHandler) WithPools(loads LoadQueue, writers AuditQueue) *HealthHandler {
	h.loads = loads
	h.audit = writers
	return h
}

// HandleHealth handles GET /healthz
// Liveness only; it answers 200 while the process serves requests
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	if err := h.checkDatabase(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		healthy = false
	} else {
		checks["database"] = "healthy"
	}

	pools := h.poolStatus()
	for name, p := range pools {
		if p.Started {
			checks[name] = "healthy"
		} else {
			checks[name] = "stopped"
			healthy = false
		}
	}

	status, httpStatus := "healthy", http.StatusOK
	if !healthy {
		status, httpStatus = "unhealthy", http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Pools:     pools,
	}
	if h.registry != nil {
		n := h.registry.Len()
		response.ModelsLoaded = &n
	}

	if err := utils.WriteJSON(w, httpStatus, response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil
	}
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}

func (h *HealthHandler) poolStatus() map[string]PoolStatus {
	pools := make(map[string]PoolStatus, 2)
	if h.loads != nil {
		st := h.loads.GetStats()
		pools["load_queue"] = PoolStatus{Started: st.Started, Workers: st.WorkerCount, Pending: st.PendingTasks, Capacity: st.QueueSize}
	}
	if h.audit != nil {
		st := h.audit.GetStats()
		pools["audit"] = PoolStatus{Started: st.Started, Workers: st.WorkerCount, Pending: st.PendingEntries, Capacity: st.BufferSize}
	}
	return pools
}
