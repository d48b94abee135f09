package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/flightdesk/flightdesk/pkg/httpx"
)

// Error codes carried in the "error" field of every failure body.
const (
	ErrorCodeInvalidRequest   = "invalid_request"
	ErrorCodeInvalidGrant     = "invalid_grant"
	ErrorCodeInvalidToken     = "invalid_token"
	ErrorCodeInsufficientRole = "insufficient_role"
	ErrorCodeNotFound         = "not_found"
	ErrorCodeConflict         = "conflict"
	ErrorCodeServerError      = "server_error"
	ErrorCodeRateLimited      = "rate_limit_exceeded"
)

// OAuth2Error is an RFC 6749 style error. The server writes it and the client
// returns it, so callers can errors.As on either side.
type OAuth2Error struct {
	// StatusCode is the HTTP status code for this error
	StatusCode int `json:"-"`

	// Code is the error code (e.g., "invalid_request", "invalid_grant")
	Code string `json:"error"`

	// Description is a human-readable description of the error
	Description string `json:"error_description"`
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches on status and code so wrapped copies compare equal to the
// predefined values.
func (e *OAuth2Error) Is(target error) bool {
	var t *OAuth2Error
	if !errors.As(target, &t) {
		return false
	}
	return e.StatusCode == t.StatusCode && e.Code == t.Code
}

// WriteError writes this error to an HTTP response. 401 responses also carry
// the bearer challenge header.
func (e *OAuth2Error) WriteError(w http.ResponseWriter) {
	if e.StatusCode == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	httpx.WriteError(w, e.StatusCode, e.Code, e.Description)
}

var (
	// ErrInvalidRequest is a malformed or incomplete request body.
	ErrInvalidRequest = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	// ErrInvalidGrant covers bad credentials and every refresh-token failure
	// (unknown, revoked, expired). The cases are deliberately indistinguishable.
	ErrInvalidGrant = &OAuth2Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidGrant,
		Description: "invalid credentials",
	}

	// ErrInvalidToken is returned when the access token is missing, invalid or expired.
	ErrInvalidToken = &OAuth2Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidToken,
		Description: "authentication required",
	}

	// ErrInsufficientRole is an authenticated caller lacking the needed role.
	ErrInsufficientRole = &OAuth2Error{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeInsufficientRole,
		Description: "caller lacks the required role",
	}

	ErrNotFound = &OAuth2Error{
		StatusCode:  http.StatusNotFound,
		Code:        ErrorCodeNotFound,
		Description: "resource not found",
	}

	ErrConflict = &OAuth2Error{
		StatusCode:  http.StatusConflict,
		Code:        ErrorCodeConflict,
		Description: "resource already exists",
	}

	ErrServerError = &OAuth2Error{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}

	ErrMethodNotAllowed = &OAuth2Error{
		StatusCode:  http.StatusMethodNotAllowed,
		Code:        ErrorCodeInvalidRequest,
		Description: "method not allowed",
	}
)

// NewOAuth2Error creates an error with a custom description.
func NewOAuth2Error(statusCode int, code, description string) *OAuth2Error {
	return &OAuth2Error{StatusCode: statusCode, Code: code, Description: description}
}

// parseErrorResponse turns a non-2xx response into an *OAuth2Error.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &OAuth2Error{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
		}
	}

	return &OAuth2Error{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
