package httpx

import (
	"net/http"

	"github.com/flightdesk/flightdesk/pkg/rbac"
	"github.com/flightdesk/flightdesk/pkg/slogx"
)

// Require admits callers whose claims satisfy p. It must run after
// AuthnMiddleware; a request without claims is treated as unauthenticated.
func Require(p rbac.Predicate) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteBearerError(w)
				return
			}

			if err := claims.Allow(p); err != nil {
				slogx.FromContext(r.Context()).Info("permission denied", "predicate", p.String())
				WriteForbidden(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyRole the caller must hold at least one of roles.
func RequireAnyRole(roles ...rbac.Role) Middleware {
	return Require(rbac.AnyRole(roles...))
}

// RequireCapability the caller's roles must grant every bit of c.
func RequireCapability(c rbac.Capability) Middleware {
	return Require(rbac.HasCapability(c))
}

// WriteForbidden writes the 403 used for authorization failures.
func WriteForbidden(w http.ResponseWriter) {
	WriteError(w, http.StatusForbidden, "insufficient_role", "caller lacks the required role")
}
