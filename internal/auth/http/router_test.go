package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/domain"
	"github.com/flightdesk/flightdesk/internal/auth/metrics"
	"github.com/flightdesk/flightdesk/internal/auth/service"
	"github.com/flightdesk/flightdesk/internal/auth/store/drivers/sqlite"
	"github.com/flightdesk/flightdesk/pkg/authsdk"
	"github.com/flightdesk/flightdesk/pkg/cryptox"
	"github.com/flightdesk/flightdesk/pkg/jwtx"
	"github.com/flightdesk/flightdesk/pkg/rbac"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct horse battery"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testServer struct {
	router *Router
	store  *sqlite.Store
	clock  *testClock
	users  *service.UserService
	tokens *service.TokenService
}

type serverOption func(*Router)

func withBootstrapToken(token string) serverOption {
	return func(r *Router) { r.BootstrapService.Token = token }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations(context.Background()))

	clk := &testClock{t: time.Unix(1_700_000_000, 0).UTC()}
	signer, err := jwtx.NewHS256([]byte("0123456789abcdef0123456789abcdef"), "flightdesk-test", jwtx.WithClock(clk.Now))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	tokens := &service.TokenService{
		Signer:     signer,
		Verifier:   signer,
		Users:      st.Users(),
		Tokens:     st.RefreshTokens(),
		Issuer:     "flightdesk-test",
		AccessTTL:  jwtx.DefaultAccessTokenTTL,
		RefreshTTL: jwtx.DefaultRefreshTokenTTL,
		Metrics:    m,
		Now:        clk.Now,
	}
	users := &service.UserService{
		Store:   st,
		Hasher:  cryptox.NewPasswordHasher("test-pepper"),
		Tokens:  tokens,
		Metrics: m,
		Now:     clk.Now,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRouter("test", st, nil, m, reg, logger)
	r.TokenService = tokens
	r.UserService = users
	r.RolesService = &service.RolesService{Users: st.Users()}
	r.MFAService = &service.MFAService{Users: st.Users(), Issuer: "FlightDesk", Now: clk.Now}
	r.BootstrapService = &service.BootstrapService{Store: st, Users: users}
	for _, opt := range opts {
		opt(r)
	}
	r.ApplyRoutes()

	return &testServer{router: r, store: st, clock: clk, users: users, tokens: tokens}
}

func (s *testServer) createUser(t *testing.T, username string, roles ...rbac.Role) domain.User {
	t.Helper()
	u, err := s.users.CreateUser(context.Background(), service.CreateUserParams{
		Username: username,
		Password: testPassword,
		Roles:    roles,
	})
	require.NoError(t, err)
	return u
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, username string) authsdk.TokenResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/auth/login", "", authsdk.LoginRequest{Username: username, Password: testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[authsdk.TokenResponse](t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	require.Equal(t, code, decode[authsdk.ErrorResponse](t, rec).Error)
	if status == http.StatusUnauthorized {
		require.Equal(t, `Bearer error="invalid_token"`, rec.Header().Get("WWW-Authenticate"))
	}
}

func TestLoginRefreshLogout(t *testing.T) {
	s := newTestServer(t)
	u := s.createUser(t, "ada", rbac.RoleInstructor)

	rec := s.do(t, http.MethodPost, "/v1/auth/login", "", authsdk.LoginRequest{Username: "ada", Password: testPassword})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	first := decode[authsdk.TokenResponse](t, rec)
	require.Equal(t, "Bearer", first.TokenType)
	require.Equal(t, 900, first.ExpiresIn)
	require.Equal(t, 7*24*3600, first.RefreshExpiresIn)
	require.Equal(t, u.ID, first.UserID)
	require.Equal(t, rbac.Roles{rbac.RoleInstructor}, first.Roles)

	rec = s.do(t, http.MethodPost, "/v1/auth/refresh", "", authsdk.RefreshRequest{RefreshToken: first.RefreshToken, UserID: u.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[authsdk.TokenResponse](t, rec)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The rotated token is dead.
	rec = s.do(t, http.MethodPost, "/v1/auth/refresh", "", authsdk.RefreshRequest{RefreshToken: first.RefreshToken, UserID: u.ID})
	requireError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidGrant)

	rec = s.do(t, http.MethodPost, "/v1/auth/logout", "", authsdk.LogoutRequest{RefreshToken: second.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[authsdk.LogoutResponse](t, rec).Revoked)

	rec = s.do(t, http.MethodPost, "/v1/auth/logout", "", authsdk.LogoutRequest{RefreshToken: second.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[authsdk.LogoutResponse](t, rec).Revoked)
}

func TestRefreshFailuresAreIndistinguishable(t *testing.T) {
	s := newTestServer(t)
	u := s.createUser(t, "ada")
	other := s.createUser(t, "bob")
	pair := s.login(t, "ada")

	cases := []authsdk.RefreshRequest{
		{RefreshToken: "not-a-token", UserID: u.ID},
		{RefreshToken: pair.RefreshToken, UserID: other.ID},
	}
	for _, in := range cases {
		rec := s.do(t, http.MethodPost, "/v1/auth/refresh", "", in)
		requireError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidGrant)
		require.Equal(t, "invalid credentials", decode[authsdk.ErrorResponse](t, rec).ErrorDescription)
	}

	s.clock.Advance(jwtx.DefaultRefreshTokenTTL)
	rec := s.do(t, http.MethodPost, "/v1/auth/refresh", "", authsdk.RefreshRequest{RefreshToken: pair.RefreshToken, UserID: u.ID})
	requireError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidGrant)

	rec = s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	requireError(t, rec, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "ada")

	rec := s.do(t, http.MethodPost, "/v1/auth/login", "", authsdk.LoginRequest{Username: "ada", Password: "wrong password"})
	requireError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidGrant)
	wrongPassword := rec.Body.String()

	rec = s.do(t, http.MethodPost, "/v1/auth/login", "", authsdk.LoginRequest{Username: "nobody", Password: testPassword})
	requireError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidGrant)
	require.Equal(t, wrongPassword, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "ada", "extra": "x"})
	requireError(t, rec, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest)
}

func TestMe(t *testing.T) {
	s := newTestServer(t)
	u := s.createUser(t, "ada", rbac.RoleStudent, rbac.RoleInstructor)
	pair := s.login(t, "ada")

	rec := s.do(t, http.MethodGet, "/v1/auth/me", "", nil)
	requireError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken)

	rec = s.do(t, http.MethodGet, "/v1/auth/me", "garbage", nil)
	requireError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken)

	rec = s.do(t, http.MethodGet, "/v1/auth/me", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[authsdk.MeResponse](t, rec)
	require.Equal(t, u.ID, me.UserID)
	require.Equal(t, "ada", me.Username)
	require.NotEmpty(t, me.SessionID)
	require.Equal(t, rbac.Roles{rbac.RoleStudent, rbac.RoleInstructor}, me.Roles)
	require.True(t, s.clock.Now().Add(jwtx.DefaultAccessTokenTTL).Equal(me.ExpiresAt))

	// Expiry is exclusive: the exact expiry instant is already too late.
	s.clock.Advance(jwtx.DefaultAccessTokenTTL)
	rec = s.do(t, http.MethodGet, "/v1/auth/me", pair.AccessToken, nil)
	requireError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken)
}

func TestAdminRequiresCapability(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "student", rbac.RoleStudent)
	s.createUser(t, "manager", rbac.RoleBaseManager)
	s.createUser(t, "admin", rbac.RoleAdmin)

	create := authsdk.CreateUserRequest{Username: "new", Password: testPassword, Roles: rbac.Roles{rbac.RoleInstructor}}

	for _, name := range []string{"student", "manager"} {
		pair := s.login(t, name)
		rec := s.do(t, http.MethodPost, "/v1/admin/users", pair.AccessToken, create)
		requireError(t, rec, http.StatusForbidden, authsdk.ErrorCodeInsufficientRole)
	}

	rec := s.do(t, http.MethodPost, "/v1/admin/users", "", create)
	requireError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken)

	admin := s.login(t, "admin")
	rec = s.do(t, http.MethodPost, "/v1/admin/users", admin.AccessToken, create)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[authsdk.UserResponse](t, rec)
	require.Equal(t, "new", created.Username)
	require.Equal(t, rbac.Roles{rbac.RoleInstructor}, created.Roles)

	rec = s.do(t, http.MethodPost, "/v1/admin/users", admin.AccessToken, create)
	requireError(t, rec, http.StatusConflict, authsdk.ErrorCodeConflict)

	rec = s.do(t, http.MethodPost, "/v1/admin/users", admin.AccessToken,
		map[string]any{"username": "x", "password": testPassword, "roles": []string{"PILOT"}})
	requireError(t, rec, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest)
}

func TestAdminSessions(t *testing.T) {
	s := newTestServer(t)
	target := s.createUser(t, "ada")
	s.createUser(t, "admin", rbac.RoleAdmin)

	first := s.login(t, "ada")
	s.login(t, "ada")
	rec := s.do(t, http.MethodPost, "/v1/auth/refresh", "", authsdk.RefreshRequest{RefreshToken: first.RefreshToken, UserID: target.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	admin := s.login(t, "admin")
	path := "/v1/admin/users/" + target.ID + "/sessions"

	rec = s.do(t, http.MethodGet, path, admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[authsdk.SessionListResponse](t, rec)
	require.Len(t, list.Tokens, 3)
	require.NotContains(t, rec.Body.String(), first.RefreshToken)
	require.NotContains(t, rec.Body.String(), cryptox.FingerprintToken(first.RefreshToken))

	var rotated int
	for _, tok := range list.Tokens {
		if tok.RevocationReason == string(domain.ReasonRotated) {
			rotated++
			require.NotEmpty(t, tok.ReplacedBy)
		}
	}
	require.Equal(t, 1, rotated)

	rec = s.do(t, http.MethodPost, path+"/revoke", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 2, decode[authsdk.RevokeSessionsResponse](t, rec).Revoked)

	rec = s.do(t, http.MethodPost, path+"/revoke", admin.AccessToken, authsdk.RevokeSessionsRequest{Reason: "compromised_device"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, decode[authsdk.RevokeSessionsResponse](t, rec).Revoked)

	rec = s.do(t, http.MethodPost, path+"/revoke", admin.AccessToken,
		authsdk.RevokeSessionsRequest{Reason: strings.Repeat("x", domain.MaxReasonLength+1)})
	requireError(t, rec, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest)
}

func TestRolesAndRoleChange(t *testing.T) {
	s := newTestServer(t)
	target := s.createUser(t, "ada", rbac.RoleStudent)
	s.createUser(t, "admin", rbac.RoleAdmin)
	admin := s.login(t, "admin")

	rec := s.do(t, http.MethodGet, "/v1/admin/roles", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	roles := decode[authsdk.RolesResponse](t, rec).Roles
	require.Len(t, roles, 5)
	require.Equal(t, rbac.RoleStudent, roles[0].Role)
	require.Equal(t, rbac.RoleSuperAdmin, roles[4].Role)
	require.Contains(t, roles[4].Capabilities, "sessions:manage")

	pair := s.login(t, "ada")
	rec = s.do(t, http.MethodGet, "/v1/admin/roles", pair.AccessToken, nil)
	requireError(t, rec, http.StatusForbidden, authsdk.ErrorCodeInsufficientRole)

	rec = s.do(t, http.MethodPut, "/v1/admin/users/"+target.ID+"/roles", admin.AccessToken,
		authsdk.SetRolesRequest{Roles: rbac.Roles{rbac.RoleBaseManager}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPut, "/v1/admin/users/missing/roles", admin.AccessToken,
		authsdk.SetRolesRequest{Roles: rbac.Roles{rbac.RoleBaseManager}})
	requireError(t, rec, http.StatusNotFound, authsdk.ErrorCodeNotFound)

	// Roles are re-read at rotation.
	rec = s.do(t, http.MethodPost, "/v1/auth/refresh", "", authsdk.RefreshRequest{RefreshToken: pair.RefreshToken, UserID: target.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	next := decode[authsdk.TokenResponse](t, rec)
	require.Equal(t, rbac.Roles{rbac.RoleBaseManager}, next.Roles)

	rec = s.do(t, http.MethodGet, "/v1/admin/roles", next.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t)
	u := s.createUser(t, "ada")
	pair := s.login(t, "ada")

	rec := s.do(t, http.MethodPost, "/v1/auth/password", pair.AccessToken,
		authsdk.ChangePasswordRequest{CurrentPassword: "wrong password", NewPassword: "a brand new secret"})
	requireError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidGrant)

	rec = s.do(t, http.MethodPost, "/v1/auth/password", pair.AccessToken,
		authsdk.ChangePasswordRequest{CurrentPassword: testPassword, NewPassword: "short"})
	requireError(t, rec, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest)

	rec = s.do(t, http.MethodPost, "/v1/auth/password", pair.AccessToken,
		authsdk.ChangePasswordRequest{CurrentPassword: testPassword, NewPassword: "a brand new secret"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, decode[authsdk.ChangePasswordResponse](t, rec).Revoked)

	rec = s.do(t, http.MethodPost, "/v1/auth/refresh", "", authsdk.RefreshRequest{RefreshToken: pair.RefreshToken, UserID: u.ID})
	requireError(t, rec, http.StatusUnauthorized, authsdk.ErrorCodeInvalidGrant)

	rec = s.do(t, http.MethodPost, "/v1/auth/login", "", authsdk.LoginRequest{Username: "ada", Password: "a brand new secret"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBootstrap(t *testing.T) {
	body := authsdk.BootstrapRequest{Username: "root", Password: testPassword}

	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, http.MethodPost, "/v1/bootstrap", "", body)
		requireError(t, rec, http.StatusNotFound, authsdk.ErrorCodeNotFound)
	})

	t.Run("enabled", func(t *testing.T) {
		s := newTestServer(t, withBootstrapToken("let-me-in"))

		send := func(token string) *httptest.ResponseRecorder {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodPost, "/v1/bootstrap", bytes.NewReader(b))
			if token != "" {
				req.Header.Set("X-Bootstrap-Token", token)
			}
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			return rec
		}

		require.Equal(t, http.StatusUnauthorized, send("").Code)
		require.Equal(t, http.StatusUnauthorized, send("wrong").Code)

		rec := send("let-me-in")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		require.Equal(t, rbac.Roles{rbac.RoleSuperAdmin}, decode[authsdk.UserResponse](t, rec).Roles)

		rec = send("let-me-in")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "already been bootstrapped")
	})
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/livez", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "test", decode[authsdk.HealthResponse](t, rec).Version)

	rec = s.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[authsdk.HealthResponse](t, rec)
	require.Equal(t, "ok", health.Status)
	require.Equal(t, "ok", health.Checks.TokenStore)

	rec = httptest.NewRecorder()
	ReadyzHandler(time.Now(), "test", s.store, failingPinger{}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	health = decode[authsdk.HealthResponse](t, rec)
	require.Equal(t, "degraded", health.Status)
	require.Equal(t, "ok", health.Checks.Database)
	require.Equal(t, "error", health.Checks.TokenStore)
	require.NotContains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "ada")
	s.login(t, "ada")

	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `flightdesk_auth_http_requests_total{method="POST",route="POST /v1/auth/login",status="200"} 1`)
	require.Contains(t, body, "flightdesk_auth_tokens_issued_total 1")
	require.Contains(t, body, `flightdesk_auth_login_attempts_total{result="ok"} 1`)
}
