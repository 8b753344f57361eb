package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum accepted signing secret size in bytes.
const MinSecretLength = 32

// Claims is the signed token payload: the principal plus the validity window.
type Claims struct {
	Principal
	jwt.RegisteredClaims
}

// Codec encodes and verifies signed access tokens. The signing method is
// selected once at construction and never branched per call; Encode and
// Decode are pure apart from the injected clock and are safe for concurrent
// use without locks.
type Codec struct {
	method jwt.SigningMethod
	secret []byte
	now    func() time.Time
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec) error

// WithSigningMethod overrides the default HS256 signing method.
func WithSigningMethod(method jwt.SigningMethod) CodecOption {
	return func(c *Codec) error {
		if method == nil {
			return errors.New("auth: signing method is required")
		}
		c.method = method
		return nil
	}
}

// WithCodecClock overrides the time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// NewCodec constructs a Codec for the given server secret.
func NewCodec(secret []byte, opts ...CodecOption) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: signing secret must be at least %d bytes", MinSecretLength)
	}
	c := &Codec{
		method: jwt.SigningMethodHS256,
		secret: secret,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Encode signs a token for the principal with the given TTL, anchored to the
// codec clock.
func (c *Codec) Encode(p Principal, ttl time.Duration) (string, time.Time, error) {
	return c.EncodeAt(p, c.now(), ttl)
}

// EncodeAt signs a token anchored to an explicit issuance instant, so access
// and refresh expirations issued together share the same anchor.
func (c *Codec) EncodeAt(p Principal, issuedAt time.Time, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(p.ID) == "" {
		return "", time.Time{}, errors.New("auth: principal id is required")
	}
	if !p.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, p.Role)
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("auth: ttl must be greater than zero")
	}

	issuedAt = issuedAt.UTC()
	expiresAt := issuedAt.Add(ttl)
	claims := Claims{
		Principal: p,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(c.method, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Decode verifies the token and returns the embedded principal. Failures map
// onto exactly one of ErrMalformedToken, ErrInvalidSignature and
// ErrExpiredToken; the caller must not expose which one to clients.
func (c *Codec) Decode(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrMalformedToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != c.method.Alg() {
			return nil, ErrInvalidSignature
		}
		return c.secret, nil
	},
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Principal{}, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenUnverifiable):
			return Principal{}, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return Principal{}, ErrExpiredToken
		default:
			return Principal{}, ErrMalformedToken
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrMalformedToken
	}
	if strings.TrimSpace(claims.Principal.ID) == "" || !claims.Principal.Role.Valid() {
		return Principal{}, ErrMalformedToken
	}
	if claims.IssuedAt != nil && claims.ExpiresAt != nil && !claims.ExpiresAt.Time.After(claims.IssuedAt.Time) {
		return Principal{}, ErrMalformedToken
	}
	return claims.Principal, nil
}
