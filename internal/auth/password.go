package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters tuned for server-side hashing.
const (
	argonMemory      uint32 = 64 * 1024
	argonIterations  uint32 = 2
	argonParallelism uint8  = 1
	argonKeyLength   uint32 = 32
	argonSaltLength         = 16
)

// HashPassword hashes a plaintext password with argon2id and returns the
// PHC-formatted string for storage.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("auth: password is empty")
	}
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword compares a plaintext password against a stored PHC hash.
// Returns ErrInvalidCredentials on mismatch.
func VerifyPassword(stored, password string) error {
	salt, expected, iterations, memory, parallelism, err := parsePasswordHash(stored)
	if err != nil {
		return err
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expected)))
	if subtle.ConstantTimeCompare(got, expected) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

func parsePasswordHash(stored string) (salt, hash []byte, iterations, memory uint32, parallelism uint8, err error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, errors.New("auth: unsupported password hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, 0, 0, 0, errors.New("auth: unsupported password hash format")
	}
	if version != argon2.Version {
		return nil, nil, 0, 0, 0, fmt.Errorf("auth: unsupported argon2 version %d", version)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return nil, nil, 0, 0, 0, errors.New("auth: unsupported password hash format")
	}
	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, 0, 0, 0, errors.New("auth: unsupported password hash format")
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, 0, 0, 0, errors.New("auth: unsupported password hash format")
	}
	return salt, hash, iterations, memory, parallelism, nil
}
