package users

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"unicode"

	"github.com/upb/model-control-plane/services"
	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix marks keys minted by this service
	APIKeyPrefix = "mlil-"

	apiKeyRandomLength      = 32
	generatedPasswordLength = 12
	minPasswordLength       = 8
	// bcrypt ignores input past 72 bytes
	maxSecretBytes = 72

	lowerChars = "abcdefghijklmnopqrstuvwxyz"
	upperChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars = "0123456789"
	alnumChars = lowerChars + upperChars + digitChars
)

// Hasher is the one-way primitive used for keys and passwords
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(hash, secret string) bool
}

// BcryptHasher implements Hasher with golang.org/x/crypto/bcrypt
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher clamps cost into bcrypt's accepted range
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash returns the bcrypt hash of secret
func (h *BcryptHasher) Hash(secret string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(out), nil
}

// Verify reports whether secret matches hash
func (h *BcryptHasher) Verify(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// ValidateAPIKey rejects caller-supplied keys bcrypt cannot hash. An empty key is valid.
func ValidateAPIKey(key string) error {
	if len(key) > maxSecretBytes {
		return services.ErrInvalidAPIKey.WithMessage("api key must not exceed %d bytes", maxSecretBytes)
	}
	return nil
}

// ValidatePassword enforces the password policy on every accepted password
func ValidatePassword(password string) error {
	if len(password) > maxSecretBytes {
		return services.ErrWeakPassword.WithMessage("password must not exceed %d bytes", maxSecretBytes)
	}
	if len(password) < minPasswordLength {
		return services.ErrWeakPassword
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return services.ErrWeakPassword
	}
	return nil
}

// GenerateAPIKey returns a new random API key
func GenerateAPIKey() (string, error) {
	body, err := randomString(alnumChars, apiKeyRandomLength)
	if err != nil {
		return "", err
	}
	return APIKeyPrefix + body, nil
}

// GeneratePassword returns a random password that satisfies ValidatePassword
func GeneratePassword() (string, error) {
	buf := make([]byte, 0, generatedPasswordLength)
	for _, class := range []string{lowerChars, upperChars, digitChars} {
		c, err := randomString(class, 1)
		if err != nil {
			return "", err
		}
		buf = append(buf, c...)
	}
	rest, err := randomString(alnumChars, generatedPasswordLength-len(buf))
	if err != nil {
		return "", err
	}
	buf = append(buf, rest...)

	// Fisher-Yates so the guaranteed classes are not always in front.
	for i := len(buf) - 1; i > 0; i-- {
		j, err := randomIndex(i + 1)
		if err != nil {
			return "", err
		}
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

func randomString(alphabet string, n int) (string, error) {
	out := make([]byte, n)
	for i := range out {
		idx, err := randomIndex(len(alphabet))
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx]
	}
	return string(out), nil
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return int(v.Int64()), nil
}
