package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lifecycle defaults per the server configuration contract.
const (
	DefaultAccessTTL      = 24 * time.Hour
	DefaultRefreshTTL     = 7 * 24 * time.Hour
	RefreshThrottleWindow = 10 * time.Second
	ExpirySoonThreshold   = 5 * time.Minute
)

// TokenPair represents access and refresh tokens along with their
// expirations, both anchored to the same issuance instant.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Manager issues, rotates and revokes token pairs. Token verification itself
// is stateless; issuance and refresh mutate the refresh token store, and the
// store's conditional consume serializes concurrent rotations of one token.
type Manager struct {
	codec      *Codec
	users      UserStore
	tokens     RefreshTokenStore
	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ManagerOption configures Manager behavior.
type ManagerOption func(*Manager) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) error {
		if ttl > 0 {
			m.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) error {
		if ttl > 0 {
			m.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) error {
		if fn != nil {
			m.now = fn
		}
		return nil
	}
}

// NewManager constructs a Manager.
func NewManager(codec *Codec, users UserStore, tokens RefreshTokenStore, opts ...ManagerOption) (*Manager, error) {
	if codec == nil {
		return nil, errors.New("auth: codec is required")
	}
	if users == nil || tokens == nil {
		return nil, errors.New("auth: user and refresh token stores are required")
	}
	m := &Manager{
		codec:      codec,
		users:      users,
		tokens:     tokens,
		now:        time.Now,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Login verifies credentials and issues a fresh token pair. Lookup failures,
// wrong passwords and disabled accounts are indistinguishable to the caller.
func (m *Manager) Login(ctx context.Context, email, password string) (TokenPair, Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	user, err := m.users.FindByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	principal := user.Principal()
	pair, err := m.Issue(ctx, principal)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	return pair, principal, nil
}

// Issue mints an access/refresh pair for an already verified principal.
func (m *Manager) Issue(ctx context.Context, principal Principal) (TokenPair, error) {
	now := m.now()
	accessToken, accessExp, err := m.codec.EncodeAt(principal, now, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refreshString, record, err := m.generateRefreshToken(principal.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := m.tokens.Create(ctx, record); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

// Refresh rotates a refresh token: the old token is atomically revoked and a
// new pair issued. Expired, revoked and unknown tokens fail with
// ErrRefreshTokenInvalid; presenting an already rotated token additionally
// revokes every outstanding token of that user (reuse detection).
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (TokenPair, Principal, error) {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, Principal{}, ErrRefreshTokenInvalid
	}

	record, err := m.tokens.Find(ctx, tokenID)
	if err != nil {
		return TokenPair{}, Principal{}, ErrRefreshTokenInvalid
	}
	if record.Revoked {
		// Reuse after rotation: force a full re-login everywhere.
		_ = m.tokens.RevokeAllForUser(ctx, record.UserID)
		return TokenPair{}, Principal{}, ErrRefreshTokenInvalid
	}
	if !m.now().Before(record.ExpiresAt) {
		return TokenPair{}, Principal{}, ErrRefreshTokenInvalid
	}
	if !secureCompareHash(record.TokenHash, secret) {
		_ = m.tokens.Revoke(ctx, record.ID)
		return TokenPair{}, Principal{}, ErrRefreshTokenInvalid
	}

	// Atomic check-and-revoke: of concurrent rotations of the same token,
	// exactly one passes, the rest land here.
	if err := m.tokens.Consume(ctx, record.ID, m.now()); err != nil {
		return TokenPair{}, Principal{}, ErrRefreshTokenInvalid
	}

	user, err := m.users.Find(ctx, record.UserID)
	if err != nil || !user.IsActive {
		return TokenPair{}, Principal{}, ErrRefreshTokenInvalid
	}
	principal := user.Principal()
	pair, err := m.Issue(ctx, principal)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	return pair, principal, nil
}

// Revoke marks the refresh token revoked; subsequent Refresh calls with it
// fail. Unknown and malformed tokens are ignored.
func (m *Manager) Revoke(ctx context.Context, refreshToken string) error {
	tokenID, _, err := splitRefreshToken(refreshToken)
	if err != nil {
		return nil
	}
	err = m.tokens.Revoke(ctx, tokenID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// RevokeAllForUser revokes every outstanding refresh token of the user.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID string) error {
	return m.tokens.RevokeAllForUser(ctx, userID)
}

// ExpiringSoon reports whether an access token expiring at the given instant
// should be proactively refreshed.
func (m *Manager) ExpiringSoon(accessExpiresAt time.Time) bool {
	return accessExpiresAt.Sub(m.now()) < ExpirySoonThreshold
}

func (m *Manager) generateRefreshToken(userID string, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, fmt.Errorf("generate refresh secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := uuid.NewString()
	sum := sha256.Sum256([]byte(secret))
	record := &RefreshToken{
		ID:        tokenID,
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(m.refreshTTL),
		CreatedAt: now.UTC(),
	}
	return tokenID + "." + secret, record, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
