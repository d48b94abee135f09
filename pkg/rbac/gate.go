package rbac

import (
	"errors"
	"strings"
)

// ErrPermissionDenied is returned when a caller's roles do not satisfy a
// predicate. It is distinct from authentication failures.
var ErrPermissionDenied = errors.New("rbac: permission denied")

// Predicate decides whether a role set is allowed through.
type Predicate interface {
	Allows(Roles) bool
	String() string
}

type anyRole Roles

// AnyRole allows callers holding at least one of roles.
func AnyRole(roles ...Role) Predicate { return anyRole(roles) }

func (p anyRole) Allows(have Roles) bool {
	for _, want := range p {
		if have.Has(want) {
			return true
		}
	}
	return false
}

func (p anyRole) String() string {
	return "any_role(" + strings.Join(Roles(p).Strings(), ",") + ")"
}

type hasCapability Capability

// HasCapability allows callers whose combined roles grant every bit of c.
func HasCapability(c Capability) Predicate { return hasCapability(c) }

func (p hasCapability) Allows(have Roles) bool {
	return have.Capabilities().Has(Capability(p))
}

func (p hasCapability) String() string {
	return "capability(" + Capability(p).String() + ")"
}

// IsAdmin is the common "ADMIN or SUPER_ADMIN" check.
var IsAdmin = AnyRole(RoleAdmin, RoleSuperAdmin)

// Allow is the gate itself: nil when roles satisfy p, ErrPermissionDenied
// otherwise. It has no side effects.
func Allow(roles Roles, p Predicate) error {
	if p == nil || !p.Allows(roles) {
		return ErrPermissionDenied
	}
	return nil
}
