package jwtx

import (
	"time"

	"github.com/flightdesk/flightdesk/pkg/rbac"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default token TTLs. Services may override both through configuration.
const (
	// DefaultAccessTokenTTL keeps stolen access tokens short-lived.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL bounds how long a session survives without a login.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Claims are the access-token claims. The shape is fixed: roles decode into
// the closed rbac set, so a token naming an unknown role fails to parse.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID, shared by every token in a rotation chain.
	SID string `json:"sid,omitempty"`

	// Roles held by the subject at issue time.
	Roles rbac.Roles `json:"roles"`

	// Username for the authenticated user
	Username string `json:"username,omitempty"`
}

// NewAccessClaims builds minimally-correct claims valid from now for ttl.
func NewAccessClaims(
	subject, sid, username string,
	roles rbac.Roles,
	issuer string,
	ttl time.Duration,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:      sid,
		Roles:    roles.Normalize(),
		Username: username,
	}
}

// NewJTI returns a random identifier for the "jti" claim.
func NewJTI() string {
	return uuid.NewString()
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateExpiry checks exp and nbf against now. Expiry is exclusive: a token
// evaluated exactly at its exp instant is expired.
func (c *Claims) ValidateExpiry(now time.Time) error {
	if c.ExpiresAt == nil {
		return ErrInvalidClaim
	}
	if !now.Before(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}
	return nil
}

// Allow runs the role gate against the claims' roles.
func (c *Claims) Allow(p rbac.Predicate) error {
	return rbac.Allow(c.Roles, p)
}
