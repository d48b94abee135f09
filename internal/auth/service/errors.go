package service

import (
	"errors"

	"github.com/flightdesk/flightdesk/pkg/rbac"
)

var (
	// ErrInvalidCredentials means identity could not be established: unknown
	// user, wrong password or a missing/invalid TOTP code.
	ErrInvalidCredentials = errors.New("invalid_credentials")

	// ErrInvalidToken and ErrExpiredToken are access-token verification
	// failures. Callers must surface both as the same 401.
	ErrInvalidToken = errors.New("invalid_token")
	ErrExpiredToken = errors.New("expired_token")

	// Rotation failures.
	ErrTokenNotFound = errors.New("refresh_token_not_found")
	ErrTokenRevoked  = errors.New("refresh_token_revoked")
	ErrTokenExpired  = errors.New("refresh_token_expired")

	ErrPermissionDenied = rbac.ErrPermissionDenied

	ErrInvalidRequest = errors.New("invalid_request")
	ErrUserExists     = errors.New("user_exists")
	ErrUserNotFound   = errors.New("user_not_found")
)

// IsUnauthorized reports whether err must be surfaced as a 401.
func IsUnauthorized(err error) bool {
	for _, target := range []error{
		ErrInvalidCredentials,
		ErrInvalidToken,
		ErrExpiredToken,
		ErrTokenNotFound,
		ErrTokenRevoked,
		ErrTokenExpired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
