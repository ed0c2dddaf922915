// Package common defines shared constants and sentinel errors used across
// the server layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal   = errors.New("internal error")
	ErrorValidation = errors.New("validation error")
	ErrorForbidden  = errors.New("forbidden")

	// Login errors. Both are reported to clients with the same message.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")

	// Token errors.
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenRevoked     = errors.New("token revoked")

	// Request admission errors.
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrCacheUnavailable = errors.New("cache unavailable")

	// Startup errors.
	ErrConfig = errors.New("configuration error")
)
