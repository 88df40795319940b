package models

import (
	"time"
)

// UserRole represents the role of a principal
type UserRole string

const (
	RoleAdmin         UserRole = "admin"
	RoleDataScientist UserRole = "data_scientist"
	RoleUser          UserRole = "user"
)

// Roles lists every assignable role in privilege order.
var Roles = []UserRole{RoleAdmin, RoleDataScientist, RoleUser}

// Valid reports whether r is an assignable role
func (r UserRole) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// User is a credential store record. Secrets are stored only as one-way hashes.
type User struct {
	Username       string    `json:"username" db:"username"`
	Role           UserRole  `json:"role" db:"role"`
	HashedAPIKey   string    `json:"-" db:"hashed_api_key"`
	HashedPassword string    `json:"-" db:"hashed_password"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// NewUser creates a new User instance
func NewUser(username string, role UserRole, hashedAPIKey, hashedPassword string) *User {
	now := time.Now().UTC()
	return &User{
		Username:       username,
		Role:           role,
		HashedAPIKey:   hashedAPIKey,
		HashedPassword: hashedPassword,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsAdmin returns true if the user has admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserSummary is the secret-free view returned by list operations
type UserSummary struct {
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
}

// Principal is the identity resolved for a request
type Principal struct {
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
}
