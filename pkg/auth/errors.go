package auth

import "errors"

// Error taxonomy shared by the issuer, the verifier and the access-control gate.
// Messages are deliberately generic: callers never learn which check failed.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateEmail     = errors.New("user with this email already exists")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("not permitted")
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
)
