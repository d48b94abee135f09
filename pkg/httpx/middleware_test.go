package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flightdesk/flightdesk/pkg/httpx"
	"github.com/flightdesk/flightdesk/pkg/jwtx"
	"github.com/flightdesk/flightdesk/pkg/rbac"
	"github.com/stretchr/testify/require"
)

func newVerifier(t *testing.T, now time.Time) *jwtx.HS256 {
	t.Helper()
	h, err := jwtx.NewHS256([]byte("0123456789abcdef0123456789abcdef"), "flightdesk",
		jwtx.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return h
}

func bearer(t *testing.T, h *jwtx.HS256, roles rbac.Roles, now time.Time) string {
	t.Helper()
	tok, err := h.Sign(jwtx.NewAccessClaims("user-1", "sess", "", roles, h.Issuer(), time.Minute, now))
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("a"), mw("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := httpx.BearerToken(req)
	require.False(t, ok)

	req.Header.Set("Authorization", "bearer abc")
	tok, ok := httpx.BearerToken(req)
	require.True(t, ok)
	require.Equal(t, "abc", tok)

	req.Header.Set("Authorization", "Basic abc")
	_, ok = httpx.BearerToken(req)
	require.False(t, ok)

	req.Header.Set("Authorization", "Bearer   ")
	_, ok = httpx.BearerToken(req)
	require.False(t, ok)
}

func TestAuthnAndGate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newVerifier(t, now)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, found := httpx.ClaimsFromContext(r.Context())
		require.True(t, found)
		require.Equal(t, "user-1", httpx.UserIDFromContext(r.Context()))
		require.Equal(t, "user-1", claims.Subject)
		w.WriteHeader(http.StatusNoContent)
	})
	h := httpx.Chain(ok, httpx.AuthnMiddleware(v), httpx.Require(rbac.IsAdmin))

	serve := func(authz string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("missing token is 401", func(t *testing.T) {
		rec := serve("")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, `Bearer error="invalid_token"`, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("garbage token is 401", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, serve("Bearer nope").Code)
	})

	t.Run("expired token is 401 with same body", func(t *testing.T) {
		old := newVerifier(t, now.Add(-time.Hour))
		expired := serve(bearer(t, old, rbac.Roles{rbac.RoleAdmin}, now.Add(-time.Hour)))
		invalid := serve("Bearer nope")
		require.Equal(t, http.StatusUnauthorized, expired.Code)
		require.Equal(t, invalid.Body.String(), expired.Body.String())
	})

	t.Run("student is 403", func(t *testing.T) {
		rec := serve(bearer(t, v, rbac.Roles{rbac.RoleStudent}, now))
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Contains(t, rec.Body.String(), "insufficient_role")
		require.Empty(t, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("super admin passes", func(t *testing.T) {
		require.Equal(t, http.StatusNoContent, serve(bearer(t, v, rbac.Roles{rbac.RoleSuperAdmin}, now)).Code)
	})
}

func TestRequireWithoutAuthn(t *testing.T) {
	h := httpx.RequireCapability(rbac.CapManageUsers)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
