package auth

import "errors"

// Sentinel errors returned by the auth core. The HTTP layer maps them to
// stable response codes; nothing here escapes as a panic.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrStaleToken         = errors.New("auth: stale token version")
	ErrTokenReuseDetected = errors.New("auth: refresh token reuse detected")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrTargetNotFound     = errors.New("auth: impersonation target not found")
	ErrTargetIsAdmin      = errors.New("auth: administrators cannot be impersonated")

	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: resource conflict")
	ErrInvalidInput = errors.New("auth: invalid input")
)
