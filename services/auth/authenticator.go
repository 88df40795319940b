// Package auth verifies claimed identities and issues access tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services"
	"go.uber.org/zap"
)

// CredentialLookup returns the single stored record for a username
type CredentialLookup interface {
	Lookup(ctx context.Context, username string) (*models.User, error)
}

// Verifier checks a plaintext secret against its stored hash
type Verifier interface {
	Verify(hash, secret string) bool
}

// SystemPrincipal is an env-configured identity with admin rights that has no stored record
type SystemPrincipal struct {
	Username string
	Key      string
}

// Authenticator validates credentials against the credential store
type Authenticator struct {
	users    CredentialLookup
	verifier Verifier
	tokens   *TokenIssuer
	system   SystemPrincipal
	logger   *zap.Logger
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(users CredentialLookup, verifier Verifier, tokens *TokenIssuer, system SystemPrincipal, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		users:    users,
		verifier: verifier,
		tokens:   tokens,
		system:   system,
		logger:   logger,
	}
}

// VerifyKey checks an API key and returns the stored role
func (a *Authenticator) VerifyKey(ctx context.Context, username, key string) (models.UserRole, error) {
	if a.isSystem(username) {
		if subtle.ConstantTimeCompare([]byte(key), []byte(a.system.Key)) == 1 {
			return models.RoleAdmin, nil
		}
		return "", services.ErrInvalidCredentials
	}
	return a.verify(ctx, username, key, func(u *models.User) string { return u.HashedAPIKey })
}

// VerifyPassword checks a password and returns the stored role
func (a *Authenticator) VerifyPassword(ctx context.Context, username, password string) (models.UserRole, error) {
	return a.verify(ctx, username, password, func(u *models.User) string { return u.HashedPassword })
}

// IssueToken mints an access token for an already verified principal
func (a *Authenticator) IssueToken(principal models.Principal) (*IssuedToken, error) {
	token, err := a.tokens.Issue(principal)
	if err != nil {
		return nil, err
	}
	a.logger.Info("access token issued", zap.String("username", principal.Username))
	return token, nil
}

// ParseToken validates a bearer token
func (a *Authenticator) ParseToken(token string) (*models.Principal, error) {
	return a.tokens.Parse(token)
}

// TokenTTL returns the validity window of issued tokens
func (a *Authenticator) TokenTTL() int64 {
	return int64(a.tokens.TTL().Seconds())
}

func (a *Authenticator) verify(ctx context.Context, username, secret string, stored func(*models.User) string) (models.UserRole, error) {
	if username == "" || secret == "" {
		return "", services.ErrInvalidCredentials
	}

	user, err := a.users.Lookup(ctx, username)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			return "", services.ErrInvalidCredentials
		}
		return "", err
	}

	if !a.verifier.Verify(stored(user), secret) {
		return "", services.ErrInvalidCredentials
	}
	return user.Role, nil
}

func (a *Authenticator) isSystem(username string) bool {
	return a.system.Username != "" && a.system.Key != "" && username == a.system.Username
}
