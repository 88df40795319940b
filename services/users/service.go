// Package users implements the credential store: creation, secret reissue,
// role management and lookups over the users table.
package users

import (
	"context"
	"errors"

	"github.com/upb/model-control-plane/internal/keylock"
	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/repositories"
	"github.com/upb/model-control-plane/services"
	"go.uber.org/zap"
)

// CreateUserInput describes a new user. Empty secrets are generated.
type CreateUserInput struct {
	Username string
	Role     models.UserRole
	APIKey   string
	Password string
}

// Credentials carries freshly minted plaintext secrets. They are returned once and never stored.
type Credentials struct {
	Username string          `json:"username"`
	Role     models.UserRole `json:"role"`
	APIKey   string          `json:"api_key"`
	Password string          `json:"password"`
}

// Service manages the credential store
type Service struct {
	users  repositories.UserRepository
	txMgr  repositories.TransactionManager
	hasher Hasher
	locks  *keylock.Locker[string]
	logger *zap.Logger
}

// NewService creates a new credential store service
func NewService(users repositories.UserRepository, txMgr repositories.TransactionManager, hasher Hasher, logger *zap.Logger) *Service {
	return &Service{
		users:  users,
		txMgr:  txMgr,
		hasher: hasher,
		locks:  keylock.New[string](),
		logger: logger,
	}
}

// Create adds a user, generating any secret that was not supplied
func (s *Service) Create(ctx context.Context, in CreateUserInput) (*Credentials, error) {
	if in.Username == "" {
		return nil, services.ErrInvalidInput.WithMessage("username is required")
	}
	if !in.Role.Valid() {
		return nil, services.ErrInvalidRole.WithDetail("role", string(in.Role))
	}

	creds := &Credentials{Username: in.Username, Role: in.Role, APIKey: in.APIKey, Password: in.Password}
	if creds.Password != "" {
		if err := ValidatePassword(creds.Password); err != nil {
			return nil, err
		}
	} else {
		generated, err := GeneratePassword()
		if err != nil {
			return nil, services.WrapInternal("failed to generate password", err)
		}
		creds.Password = generated
	}
	if err := ValidateAPIKey(creds.APIKey); err != nil {
		return nil, err
	}
	if creds.APIKey == "" {
		generated, err := GenerateAPIKey()
		if err != nil {
			return nil, services.WrapInternal("failed to generate api key", err)
		}
		creds.APIKey = generated
	}

	hashedKey, err := s.hasher.Hash(creds.APIKey)
	if err != nil {
		return nil, services.WrapInternal("failed to hash api key", err)
	}
	hashedPassword, err := s.hasher.Hash(creds.Password)
	if err != nil {
		return nil, services.WrapInternal("failed to hash password", err)
	}

	unlock := s.locks.Lock(in.Username)
	defer unlock()

	_, err = services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context) (struct{}, error) {
		rows, err := s.users.FindByUsername(ctx, in.Username)
		if err != nil {
			return struct{}{}, services.WrapDatabase("failed to look up user", err)
		}
		if len(rows) > 1 {
			return struct{}{}, s.corrupted(in.Username, len(rows))
		}
		if len(rows) == 1 {
			return struct{}{}, services.ErrDuplicateUser.WithDetail("username", in.Username)
		}

		user := models.NewUser(in.Username, in.Role, hashedKey, hashedPassword)
		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				return struct{}{}, services.ErrDuplicateUser.WithDetail("username", in.Username)
			}
			return struct{}{}, services.WrapDatabase("failed to create user", err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user created", zap.String("username", in.Username), zap.String("role", string(in.Role)))
	return creds, nil
}

// Delete removes a user. Deleting an unknown user returns ErrUserNotFound.
func (s *Service) Delete(ctx context.Context, username string) error {
	unlock := s.locks.Lock(username)
	defer unlock()

	existed, err := s.users.Delete(ctx, username)
	if err != nil {
		return services.WrapDatabase("failed to delete user", err)
	}
	if !existed {
		return services.ErrUserNotFound.WithDetail("username", username)
	}
	s.logger.Info("user deleted", zap.String("username", username))
	return nil
}

// IssueNewKey replaces the user's API key and returns the new plaintext key
func (s *Service) IssueNewKey(ctx context.Context, username string) (string, error) {
	key, err := GenerateAPIKey()
	if err != nil {
		return "", services.WrapInternal("failed to generate api key", err)
	}
	hashed, err := s.hasher.Hash(key)
	if err != nil {
		return "", services.WrapInternal("failed to hash api key", err)
	}

	if err := s.updateSecret(ctx, username, func(ctx context.Context) error {
		return s.users.UpdateAPIKey(ctx, username, hashed)
	}); err != nil {
		return "", err
	}

	s.logger.Info("api key issued", zap.String("username", username))
	return key, nil
}

// IssueNewPassword sets candidate, or a generated password when candidate is empty.
// The policy is checked before anything is written.
func (s *Service) IssueNewPassword(ctx context.Context, username, candidate string) (string, error) {
	password := candidate
	if password == "" {
		generated, err := GeneratePassword()
		if err != nil {
			return "", services.WrapInternal("failed to generate password", err)
		}
		password = generated
	}
	if err := ValidatePassword(password); err != nil {
		return "", err
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return "", services.WrapInternal("failed to hash password", err)
	}

	if err := s.updateSecret(ctx, username, func(ctx context.Context) error {
		return s.users.UpdatePassword(ctx, username, hashed)
	}); err != nil {
		return "", err
	}

	s.logger.Info("password issued", zap.String("username", username), zap.Bool("generated", candidate == ""))
	return password, nil
}

// GetRole returns the stored role of username
func (s *Service) GetRole(ctx context.Context, username string) (models.UserRole, error) {
	user, err := s.Lookup(ctx, username)
	if err != nil {
		return "", err
	}
	return user.Role, nil
}

// UpdateRole changes the role of username
func (s *Service) UpdateRole(ctx context.Context, username string, role models.UserRole) error {
	if !role.Valid() {
		return services.ErrInvalidRole.WithDetail("role", string(role))
	}

	if err := s.updateSecret(ctx, username, func(ctx context.Context) error {
		return s.users.UpdateRole(ctx, username, role)
	}); err != nil {
		return err
	}

	s.logger.Info("role updated", zap.String("username", username), zap.String("role", string(role)))
	return nil
}

// List returns every user ordered by username, without secrets
func (s *Service) List(ctx context.Context) ([]models.UserSummary, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, services.WrapDatabase("failed to list users", err)
	}
	return users, nil
}

// Lookup returns the single record stored for username
func (s *Service) Lookup(ctx context.Context, username string) (*models.User, error) {
	rows, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, services.WrapDatabase("failed to look up user", err)
	}
	switch len(rows) {
	case 0:
		return nil, services.ErrUserNotFound.WithDetail("username", username)
	case 1:
		return rows[0], nil
	default:
		return nil, s.corrupted(username, len(rows))
	}
}

// EnsureBootstrapAdmin creates the administrator account if it does not exist yet
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, username, password, apiKey string) (bool, error) {
	_, err := s.Lookup(ctx, username)
	if err == nil {
		s.logger.Debug("bootstrap admin already present", zap.String("username", username))
		return false, nil
	}
	if !errors.Is(err, services.ErrUserNotFound) {
		return false, err
	}

	_, err = s.Create(ctx, CreateUserInput{
		Username: username,
		Role:     models.RoleAdmin,
		APIKey:   apiKey,
		Password: password,
	})
	if errors.Is(err, services.ErrDuplicateUser) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// updateSecret runs mutate under the username lock after confirming exactly one record exists
func (s *Service) updateSecret(ctx context.Context, username string, mutate func(ctx context.Context) error) error {
	unlock := s.locks.Lock(username)
	defer unlock()

	_, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context) (struct{}, error) {
		if _, err := s.Lookup(ctx, username); err != nil {
			return struct{}{}, err
		}
		if err := mutate(ctx); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return struct{}{}, services.ErrUserNotFound.WithDetail("username", username)
			}
			return struct{}{}, services.WrapDatabase("failed to update user", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (s *Service) corrupted(username string, n int) error {
	s.logger.Error("credential store invariant violated",
		zap.String("username", username),
		zap.Int("records", n))
	return services.ErrDuplicateUserRecord.WithDetail("username", username)
}
