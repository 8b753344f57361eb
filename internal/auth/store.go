package auth

import (
	"context"
	"time"
)

// UserStore manages account records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
	UpdateRole(ctx context.Context, id string, role Role) error
	Delete(ctx context.Context, id string) error
}

// UserUpdate carries optional account field changes.
type UserUpdate struct {
	Email                 *string
	Username              *string
	PasswordHash          *string
	IsActive              *bool
	RequiresPasswordReset *bool
}

// RefreshTokenStore manages the refresh token lifecycle. Consume must be
// atomic: of any number of concurrent calls for the same live token id,
// exactly one succeeds.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	// Consume revokes the token iff it is currently unrevoked and unexpired.
	// Returns ErrRefreshTokenInvalid when no live row matched.
	Consume(ctx context.Context, id string, now time.Time) error
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}
