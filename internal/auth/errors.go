package auth

import "errors"

var (
	// ErrMalformedToken indicates the token does not have the expected
	// three-part structure or a segment failed to parse.
	ErrMalformedToken = errors.New("auth: malformed token")
	// ErrInvalidSignature indicates the token signature does not match the
	// server secret. Treated as a security event by callers.
	ErrInvalidSignature = errors.New("auth: invalid token signature")
	// ErrExpiredToken indicates a structurally valid, correctly signed token
	// whose validity window has passed.
	ErrExpiredToken = errors.New("auth: token expired")
	// ErrRefreshTokenInvalid covers expired, revoked and unknown refresh
	// tokens. Callers must treat it as a forced logout.
	ErrRefreshTokenInvalid = errors.New("auth: refresh token invalid")
	// ErrInvalidCredentials is returned on failed login without revealing
	// whether the account exists.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
)
