package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/upb/model-control-plane/middleware"
	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services"
	"github.com/upb/model-control-plane/utils"
	"go.uber.org/zap"
)

// VariableStore keeps JSON values per username
type VariableStore interface {
	Get(username, name string) (json.RawMessage, error)
	List(username string) []string
	Set(username, name string, value json.RawMessage, overwrite bool) error
	Delete(username, name string) error
}

// VariableHandler handles variable store requests. Principals work on their own
// variables; admins may name another username.
type VariableHandler struct {
	store  VariableStore
	audit  AuditRecorder
	logger *zap.Logger
}

// NewVariableHandler creates a new VariableHandler
func NewVariableHandler(store VariableStore, audit AuditRecorder, logger *zap.Logger) *VariableHandler {
	return &VariableHandler{
		store:  store,
		audit:  audit,
		logger: logger,
	}
}

// VariableRequest names a variable
type VariableRequest struct {
	VariableName string `json:"variable_name" validate:"required"`
	Username     string `json:"username,omitempty"`
}

// SetVariableRequest stores value under variable_name
type SetVariableRequest struct {
	VariableName string          `json:"variable_name" validate:"required"`
	Value        json.RawMessage `json:"value" validate:"required"`
	Overwrite    bool            `json:"overwrite"`
	Username     string          `json:"username,omitempty"`
}

// HandleGet handles POST /variable-store/get. The stored value is the response body.
func (h *VariableHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	var req VariableRequest
	if err := decodeRequest(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	owner, err := h.owner(r, req.Username)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	value, err := h.store.Get(owner, req.VariableName)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, value)
}

// HandleList handles GET /variable-store/list
func (h *VariableHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	owner, err := h.owner(r, r.URL.Query().Get("username"))
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	names := h.store.List(owner)
	if names == nil {
		names = []string{}
	}
	_ = utils.WriteOK(w, names)
}

// HandleSet handles POST /variable-store/set
func (h *VariableHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	var req SetVariableRequest
	if err := decodeRequest(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	owner, err := h.owner(r, req.Username)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	if err = h.store.Set(owner, req.VariableName, req.Value, req.Overwrite); err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	h.recordAudit(r, models.AuditActionVariableSet, owner, req.VariableName)
	_ = utils.WriteSuccess(w)
}

// HandleDelete handles POST /variable-store/delete
func (h *VariableHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	var req VariableRequest
	if err := decodeRequest(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	owner, err := h.owner(r, req.Username)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	if err = h.store.Delete(owner, req.VariableName); err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	h.recordAudit(r, models.AuditActionVariableDeleted, owner, req.VariableName)
	_ = utils.WriteSuccess(w)
}

// owner resolves whose variables the request addresses
func (h *VariableHandler) owner(r *http.Request, requested string) (string, error) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		return "", services.ErrUnauthenticated
	}
	if requested == "" || requested == principal.Username {
		return principal.Username, nil
	}
	if principal.Role != models.RoleAdmin {
		return "", services.ErrForbidden.WithMessage("cannot access variables of another user")
	}
	return requested, nil
}

func (h *VariableHandler) recordAudit(r *http.Request, action models.AuditAction, owner, name string) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		return
	}
	recordAudit(h.audit, r, h.logger,
		models.NewAuditLog(*principal, action, "variable", owner+"/"+name))
}
