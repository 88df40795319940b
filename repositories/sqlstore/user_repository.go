package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/repositories"
	"go.uber.org/zap"
)

// UserRepository implements repositories.UserRepository
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := r.db.Rebind(`
		INSERT INTO users (username, role, hashed_api_key, hashed_password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		user.Username,
		string(user.Role),
		user.HashedAPIKey,
		user.HashedPassword,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", translateError(err))
	}

	r.logger.Debug("user created", zap.String("username", user.Username), zap.String("role", string(user.Role)))
	return nil
}

// FindByUsername returns every row stored for username
func (r *UserRepository) FindByUsername(ctx context.Context, username string) ([]*models.User, error) {
	query := r.db.Rebind(`
		SELECT username, role, hashed_api_key, hashed_password, created_at, updated_at
		FROM users
		WHERE username = ?
	`)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user := &models.User{}
		var role string
		if err := rows.Scan(
			&user.Username,
			&role,
			&user.HashedAPIKey,
			&user.HashedPassword,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		user.Role = models.UserRole(role)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}

// UpdateAPIKey replaces the stored key hash
func (r *UserRepository) UpdateAPIKey(ctx context.Context, username, hashedAPIKey string) error {
	return r.updateColumn(ctx, "hashed_api_key", username, hashedAPIKey)
}

// UpdatePassword replaces the stored password hash
func (r *UserRepository) UpdatePassword(ctx context.Context, username, hashedPassword string) error {
	return r.updateColumn(ctx, "hashed_password", username, hashedPassword)
}

// UpdateRole changes the stored role
func (r *UserRepository) UpdateRole(ctx context.Context, username string, role models.UserRole) error {
	return r.updateColumn(ctx, "role", username, string(role))
}

// updateColumn is only called with the fixed column names above.
func (r *UserRepository) updateColumn(ctx context.Context, column, username, value string) error {
	query := r.db.Rebind(fmt.Sprintf(`
		UPDATE users
		SET %s = ?, updated_at = ?
		WHERE username = ?
	`, column))

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, value, time.Now().UTC(), username)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", column, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return repositories.ErrNotFound
	}

	r.logger.Debug("user updated", zap.String("username", username), zap.String("column", column))
	return nil
}

// Delete removes a user; deleting a missing user is not an error
func (r *UserRepository) Delete(ctx context.Context, username string) (bool, error) {
	query := r.db.Rebind(`DELETE FROM users WHERE username = ?`)

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, username)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	r.logger.Debug("user deleted", zap.String("username", username), zap.Int64("rows", affected))
	return affected > 0, nil
}

// List returns all users ordered by username
func (r *UserRepository) List(ctx context.Context) ([]models.UserSummary, error) {
	query := `SELECT username, role FROM users ORDER BY username`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.UserSummary, 0)
	for rows.Next() {
		var summary models.UserSummary
		var role string
		if err := rows.Scan(&summary.Username, &role); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		summary.Role = models.UserRole(role)
		users = append(users, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}
