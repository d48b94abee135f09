package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/flightdesk/flightdesk/pkg/jwtx"
	"github.com/flightdesk/flightdesk/pkg/slogx"
)

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthnMiddleware verifies the bearer token and stores its claims in the
// request context. Every failure is an opaque 401.
func AuthnMiddleware(v jwtx.Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			raw, ok := BearerToken(r)
			if !ok {
				WriteBearerError(w)
				return
			}

			claims, err := v.Verify(raw)
			if err != nil {
				reason := "invalid"
				if errors.Is(err, jwtx.ErrExpired) {
					reason = "expired"
				}
				slogx.FromContext(ctx).Debug("access token rejected", "reason", reason)
				WriteBearerError(w)
				return
			}

			ctx = ContextWithClaims(ctx, claims)
			ctx = slogx.With(ctx, "user_id", claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteBearerError writes an RFC 6750 invalid_token response. The body never
// says why the token was rejected.
func WriteBearerError(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	WriteError(w, http.StatusUnauthorized, "invalid_token", "authentication required")
}
