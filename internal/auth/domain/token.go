package domain

import (
	"time"

	"github.com/flightdesk/flightdesk/pkg/rbac"
)

// RevocationReason records why a refresh token stopped being usable.
type RevocationReason string

const (
	// ReasonRotated marks a token exchanged for its successor.
	ReasonRotated RevocationReason = "rotated"
	// ReasonLogout is a user-initiated sign out.
	ReasonLogout RevocationReason = "logout"
	// ReasonAdmin is a security action taken by an administrator.
	ReasonAdmin RevocationReason = "admin_revoked"
	// ReasonReuseDetected marks descendants revoked after an already-rotated
	// token was presented again.
	ReasonReuseDetected RevocationReason = "reuse_detected"
	// ReasonPasswordChanged revokes every session after a credential change.
	ReasonPasswordChanged RevocationReason = "password_changed"
)

// MaxReasonLength bounds caller-supplied revocation reasons.
const MaxReasonLength = 64

// TokenPair is what login and refresh hand back: the short-lived access
// token (JWT) and the opaque refresh token.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string // always "Bearer"
	IssuedAt         time.Time
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	UserID           string
	SessionID        string
	Roles            rbac.Roles
}

// RefreshToken models the stored refresh token record. Rows are never
// deleted; revocation only flips Revoked and records why.
type RefreshToken struct {
	ID               string
	UserID           string
	TokenHash        string // deterministic fingerprint (base64url SHA-256)
	SessionID        string // shared by every token in a rotation chain
	IssuedAt         time.Time
	ExpiresAt        time.Time
	Revoked          bool
	RevocationReason RevocationReason
	RevokedAt        *time.Time
	ReplacedBy       string // id of the successor after rotation
}

// IsExpired reports whether now is at or past ExpiresAt.
func (t RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsActive reports whether the token can still be exchanged at now.
func (t RefreshToken) IsActive(now time.Time) bool {
	return !t.Revoked && !t.IsExpired(now)
}
