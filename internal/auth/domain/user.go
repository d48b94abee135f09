package domain

import (
	"time"

	"github.com/flightdesk/flightdesk/pkg/rbac"
)

type User struct {
	ID           string
	Username     string
	DisplayName  string
	PasswordHash string // argon2id PHC string
	Roles        rbac.Roles

	// TOTPSecret is base32; it is pending until TOTPEnabledAt is set.
	TOTPSecret    string
	TOTPEnabledAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TOTPEnabled reports whether login must present a TOTP code.
func (u User) TOTPEnabled() bool {
	return u.TOTPEnabledAt != nil && u.TOTPSecret != ""
}
