package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services"
)

const (
	// TokenType is reported alongside issued tokens
	TokenType = "bearer"

	tokenIssuer     = "model-control-plane"
	signingKeyBytes = 32
)

// Claims is the signed body of an access token
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// IssuedToken is a freshly minted access token
type IssuedToken struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
}

// TokenIssuer mints and verifies HS256 access tokens. The signing secret only lives in memory,
// so restarting the process invalidates every outstanding token.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer with a random signing secret
func NewTokenIssuer(ttl time.Duration) (*TokenIssuer, error) {
	secret := make([]byte, signingKeyBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	return NewTokenIssuerWithSecret(secret, ttl), nil
}

// NewTokenIssuerWithSecret creates an issuer around a known secret
func NewTokenIssuerWithSecret(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl, now: time.Now}
}

// TTL returns the validity window of issued tokens
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue signs a token for principal
func (t *TokenIssuer) Issue(principal models.Principal) (*IssuedToken, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.Username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: string(principal.Role),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return nil, services.WrapInternal("failed to sign access token", err)
	}
	return &IssuedToken{AccessToken: signed, TokenType: TokenType, ExpiresAt: expiresAt}, nil
}

// Parse verifies signature and expiry and returns the principal the token was issued to
func (t *TokenIssuer) Parse(tokenString string) (*models.Principal, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, services.ErrInvalidToken.WithMessage("access token expired").Wrap(err)
		}
		return nil, services.ErrInvalidToken.Wrap(err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, services.ErrInvalidToken
	}

	role := models.UserRole(claims.Role)
	if !role.Valid() {
		return nil, services.ErrInvalidToken.WithDetail("role", claims.Role)
	}
	return &models.Principal{Username: claims.Subject, Role: role}, nil
}
