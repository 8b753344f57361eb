package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the global role carried by every account.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleMember  Role = "MEMBER"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleMember:
		return true
	}
	return false
}

// ParseRole normalizes and validates a role string.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
	return role, nil
}

// Principal is the verified identity derived from a credential. It is
// immutable for the lifetime of the token it was decoded from.
type Principal struct {
	ID                    string `json:"id"`
	Email                 string `json:"email"`
	Username              string `json:"username"`
	Role                  Role   `json:"role"`
	IsActive              bool   `json:"isActive"`
	RequiresPasswordReset bool   `json:"requiresPasswordReset"`
}

// User is a persisted account record.
type User struct {
	ID                    string
	Email                 string
	Username              string
	PasswordHash          string
	Role                  Role
	IsActive              bool
	RequiresPasswordReset bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Principal projects the account into its credential form.
func (u *User) Principal() Principal {
	return Principal{
		ID:                    u.ID,
		Email:                 u.Email,
		Username:              u.Username,
		Role:                  u.Role,
		IsActive:              u.IsActive,
		RequiresPasswordReset: u.RequiresPasswordReset,
	}
}

// RefreshToken is a persisted refresh token record. Only a hash of the
// client-held secret is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}
