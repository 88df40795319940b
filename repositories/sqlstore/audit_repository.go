package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/repositories"
	"go.uber.org/zap"
)

// AuditRepository implements repositories.AuditRepository
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

const auditColumns = `id, actor, actor_role, action, resource_type, resource_id,
		details, ip_address, request_id, error_message, timestamp`

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := r.db.Rebind(`
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	var details interface{}
	if len(log.Details) > 0 {
		details = string(log.Details)
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID.String(),
		log.Actor,
		string(log.ActorRole),
		string(log.Action),
		log.ResourceType,
		log.ResourceID,
		details,
		log.IPAddress,
		log.RequestID,
		log.ErrorMessage,
		log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("action", string(log.Action)))
	return nil
}

// List retrieves audit logs newest first
func (r *AuditRepository) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	query := r.db.Rebind(`
		SELECT ` + auditColumns + `
		FROM audit_logs
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`)
	return r.query(ctx, query, limit, offset)
}

// ListByActor retrieves audit logs for one principal newest first
func (r *AuditRepository) ListByActor(ctx context.Context, actor string, limit, offset int) ([]*models.AuditLog, error) {
	query := r.db.Rebind(`
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE actor = ?
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`)
	return r.query(ctx, query, actor, limit, offset)
}

func (r *AuditRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log := &models.AuditLog{}
		var (
			role, action string
			resourceID   sql.NullString
			details      sql.NullString
			ip, reqID    sql.NullString
			errMsg       sql.NullString
		)
		if err := rows.Scan(
			&log.ID,
			&log.Actor,
			&role,
			&action,
			&log.ResourceType,
			&resourceID,
			&details,
			&ip,
			&reqID,
			&errMsg,
			&log.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		log.ActorRole = models.UserRole(role)
		log.Action = models.AuditAction(action)
		log.ResourceID = resourceID.String
		if details.Valid {
			log.Details = json.RawMessage(details.String)
		}
		log.IPAddress = ip.String
		log.RequestID = reqID.String
		if errMsg.Valid {
			log.ErrorMessage = &errMsg.String
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}

	return logs, nil
}
