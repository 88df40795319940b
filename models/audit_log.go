package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionTokenIssued        AuditAction = "token_issued"
	AuditActionUserCreated        AuditAction = "user_created"
	AuditActionUserDeleted        AuditAction = "user_deleted"
	AuditActionAPIKeyIssued       AuditAction = "api_key_issued"
	AuditActionPasswordIssued     AuditAction = "password_issued"
	AuditActionRoleUpdated        AuditAction = "role_updated"
	AuditActionModelLoadRequested AuditAction = "model_load_requested"
	AuditActionModelLoaded        AuditAction = "model_loaded"
	AuditActionModelLoadFailed    AuditAction = "model_load_failed"
	AuditActionModelUnloaded      AuditAction = "model_unloaded"
	AuditActionProcessReset       AuditAction = "process_reset"
	AuditActionDataUploaded       AuditAction = "data_uploaded"
	AuditActionVariableSet        AuditAction = "variable_set"
	AuditActionVariableDeleted    AuditAction = "variable_deleted"
)

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Actor        string          `json:"actor" db:"actor"`
	ActorRole    UserRole        `json:"actor_role,omitempty" db:"actor_role"`
	Action       AuditAction     `json:"action" db:"action"`
	ResourceType string          `json:"resource_type" db:"resource_type"` // user, model, file, variable, process
	ResourceID   string          `json:"resource_id,omitempty" db:"resource_id"`
	Details      json.RawMessage `json:"details,omitempty" db:"details"`
	IPAddress    string          `json:"ip_address,omitempty" db:"ip_address"`
	RequestID    string          `json:"request_id,omitempty" db:"request_id"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(actor Principal, action AuditAction, resourceType, resourceID string) *AuditLog {
	return &AuditLog{
		ID:           uuid.New(),
		Actor:        actor.Username,
		ActorRole:    actor.Role,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Timestamp:    time.Now().UTC(),
	}
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	return a
}

// WithError records a failure message
func (a *AuditLog) WithError(errorMessage string) *AuditLog {
	a.ErrorMessage = &errorMessage
	return a
}
