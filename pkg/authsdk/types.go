package authsdk

import (
	"time"

	"github.com/flightdesk/flightdesk/pkg/rbac"
)

// ErrorResponse is the JSON shape of every error body.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// LoginRequest is the body of POST /v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// OTPCode is required once TOTP is enabled for the user.
	OTPCode string `json:"otp_code,omitempty"`
}

// RefreshRequest is the body of POST /v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
}

// LogoutRequest is the body of POST /v1/auth/logout.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutResponse reports whether a live token was revoked by the call.
type LogoutResponse struct {
	Revoked bool `json:"revoked"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	// AccessToken is the signed JWT used as a bearer credential
	AccessToken string `json:"access_token"`

	// RefreshToken is the opaque value exchanged at /v1/auth/refresh
	RefreshToken string `json:"refresh_token"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int `json:"expires_in"`

	// RefreshExpiresIn is the lifetime in seconds of the refresh token
	RefreshExpiresIn int `json:"refresh_expires_in"`

	UserID string     `json:"user_id"`
	Roles  rbac.Roles `json:"roles"`
}

// MeResponse describes the caller's verified access token.
type MeResponse struct {
	UserID    string     `json:"sub"`
	SessionID string     `json:"sid"`
	Username  string     `json:"username,omitempty"`
	Roles     rbac.Roles `json:"roles"`
	IssuedAt  time.Time  `json:"iat"`
	ExpiresAt time.Time  `json:"exp"`
}

// CreateUserRequest is the body of POST /v1/admin/users.
type CreateUserRequest struct {
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name,omitempty"`
	Password    string     `json:"password"`
	Roles       rbac.Roles `json:"roles"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name,omitempty"`
	Roles       rbac.Roles `json:"roles"`
	TOTPEnabled bool       `json:"totp_enabled"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SessionToken is one refresh token in a user's history. The token value and
// its fingerprint are never exposed.
type SessionToken struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"session_id"`
	IssuedAt         time.Time  `json:"issued_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	Revoked          bool       `json:"revoked"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	ReplacedBy       string     `json:"replaced_by,omitempty"`
}

// SessionListResponse is returned by GET /v1/admin/users/{id}/sessions.
type SessionListResponse struct {
	Tokens []SessionToken `json:"tokens"`
}

// RevokeSessionsRequest is the optional body of the admin revoke call.
type RevokeSessionsRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RevokeSessionsResponse counts tokens revoked by the admin revoke call.
type RevokeSessionsResponse struct {
	Revoked int `json:"revoked"`
}

// TOTPEnrollResponse carries a pending TOTP secret.
type TOTPEnrollResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

// TOTPConfirmRequest activates the pending secret.
type TOTPConfirmRequest struct {
	Code string `json:"code"`
}

// ChangePasswordRequest is the body of POST /v1/auth/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePasswordResponse counts the sessions ended by the change.
type ChangePasswordResponse struct {
	Revoked int `json:"revoked"`
}

// RoleInfo is one role and the capability names it grants.
type RoleInfo struct {
	Role         rbac.Role `json:"role"`
	Capabilities []string  `json:"capabilities"`
}

// RolesResponse is returned by GET /v1/admin/roles.
type RolesResponse struct {
	Roles []RoleInfo `json:"roles"`
}

// SetRolesRequest is the body of PUT /v1/admin/users/{id}/roles.
type SetRolesRequest struct {
	Roles rbac.Roles `json:"roles"`
}

// BootstrapRequest is the body of POST /v1/bootstrap. The bootstrap token
// travels in the X-Bootstrap-Token header.
type BootstrapRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Password    string `json:"password"`
}

// HealthChecks reports each dependency checked by /readyz.
type HealthChecks struct {
	Database   string `json:"database"`
	TokenStore string `json:"token_store"`
}

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime,omitempty"`
	Version string        `json:"version,omitempty"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}
