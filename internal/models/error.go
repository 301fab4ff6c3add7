package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Authentication taxonomy. Handlers map these to HTTP statuses and
	// never expose anything beyond the tag and minimal context.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("rate limited")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrSessionNotFound    = errors.New("session not found")
	ErrCsrfMismatch       = errors.New("csrf token mismatch")
	ErrForbidden          = errors.New("forbidden")

	// MFA flow
	ErrMfaCodeInvalid = errors.New("mfa code invalid")
)

// RateLimitError carries lockout context alongside the ErrRateLimited tag.
// Scope is "account" or "ip".
type RateLimitError struct {
	Scope       string
	RetryAfter  time.Duration
	LockedUntil time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s): retry after %s", e.Scope, e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
