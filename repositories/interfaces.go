package repositories

import (
	"context"
	"errors"

	"github.com/upb/model-control-plane/models"
)

var (
	// ErrNotFound is returned when a mutation matched no row
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when an insert violates a uniqueness constraint
	ErrConflict = errors.New("unique constraint violated")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository handles credential store operations
type UserRepository interface {
	// Create inserts a new user; returns ErrConflict if the username is taken
	Create(ctx context.Context, user *models.User) error

	// FindByUsername returns every stored row for the username.
	// Callers decide what zero or several rows mean.
	FindByUsername(ctx context.Context, username string) ([]*models.User, error)

	// UpdateAPIKey replaces the hashed API key; returns ErrNotFound if no row matched
	UpdateAPIKey(ctx context.Context, username, hashedAPIKey string) error

	// UpdatePassword replaces the hashed password; returns ErrNotFound if no row matched
	UpdatePassword(ctx context.Context, username, hashedPassword string) error

	// UpdateRole changes the role; returns ErrNotFound if no row matched
	UpdateRole(ctx context.Context, username string, role models.UserRole) error

	// Delete removes the user and reports whether a row existed
	Delete(ctx context.Context, username string) (bool, error)

	// List returns all users ordered by username, without secrets
	List(ctx context.Context) ([]models.UserSummary, error)
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// List retrieves audit logs newest first with pagination
	List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)

	// ListByActor retrieves audit logs recorded for one principal
	ListByActor(ctx context.Context, actor string, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Users     UserRepository
	AuditLogs AuditRepository
}
