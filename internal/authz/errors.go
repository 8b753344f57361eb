package authz

import "errors"

var (
	// ErrForbidden is a valid-credential, insufficient-authorization outcome.
	ErrForbidden = errors.New("authz: forbidden")
	// ErrNotFound covers nonexistent and soft-deleted resources. For tasks
	// and projects it also masks authorization state: a deleted resource is
	// indistinguishable from one that never existed.
	ErrNotFound = errors.New("authz: not found")
)
