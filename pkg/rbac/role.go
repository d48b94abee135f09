// Package rbac models the closed set of flightdesk roles and the capabilities
// each one grants. Authorization decisions are made against capability bit
// sets, never by comparing role name strings.
package rbac

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownRole is returned when a role name is not part of the closed set.
var ErrUnknownRole = errors.New("rbac: unknown role")

// Role is one of the fixed role variants. The zero value is not a valid role.
type Role uint8

const (
	RoleStudent Role = iota + 1
	RoleInstructor
	RoleBaseManager
	RoleAdmin
	RoleSuperAdmin
)

var roleNames = map[Role]string{
	RoleStudent:     "STUDENT",
	RoleInstructor:  "INSTRUCTOR",
	RoleBaseManager: "BASE_MANAGER",
	RoleAdmin:       "ADMIN",
	RoleSuperAdmin:  "SUPER_ADMIN",
}

var roleCapabilities = map[Role]Capability{
	RoleStudent:     CapViewFlightLogs,
	RoleInstructor:  CapViewFlightLogs | CapLogFlights,
	RoleBaseManager: CapViewFlightLogs | CapLogFlights | CapManageFleet | CapManageBases,
	RoleAdmin:       CapAll &^ CapManageTenants,
	RoleSuperAdmin:  CapAll,
}

// AllRoles lists every role in ascending privilege order.
func AllRoles() Roles {
	return Roles{RoleStudent, RoleInstructor, RoleBaseManager, RoleAdmin, RoleSuperAdmin}
}

// ParseRole maps a canonical role name to its variant. Matching is exact
// after trimming; "admin" is not "ADMIN".
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Valid reports whether r is part of the closed set.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// Capabilities returns the fixed capability set granted by r.
func (r Role) Capabilities() Capability {
	return roleCapabilities[r]
}

// MarshalText encodes the canonical role name, so roles appear as strings in
// JSON claims.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, uint8(r))
	}
	return []byte(roleNames[r]), nil
}

// UnmarshalText rejects names outside the closed set.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Roles is a role membership set.
type Roles []Role

// ParseRoles parses every name and returns a normalized set.
func ParseRoles(names []string) (Roles, error) {
	out := make(Roles, 0, len(names))
	for _, name := range names {
		r, err := ParseRole(name)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out.Normalize(), nil
}

// Normalize returns a sorted copy without duplicates.
func (rs Roles) Normalize() Roles {
	out := slices.Clone(rs)
	slices.Sort(out)
	return slices.Compact(out)
}

// Has reports membership of r.
func (rs Roles) Has(r Role) bool {
	return slices.Contains(rs, r)
}

// Capabilities is the union of every member's capabilities.
func (rs Roles) Capabilities() Capability {
	var c Capability
	for _, r := range rs {
		c |= r.Capabilities()
	}
	return c
}

// Strings returns canonical names in set order.
func (rs Roles) Strings() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.String()
	}
	return out
}
