package service

import (
	"context"
	"testing"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/domain"
	"github.com/flightdesk/flightdesk/internal/auth/metrics"
	"github.com/flightdesk/flightdesk/pkg/rbac"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.createUser(t, "Amelia", rbac.RoleInstructor)

	t.Run("valid credentials", func(t *testing.T) {
		got, err := h.users.Authenticate(ctx, " amelia ", "correct horse battery", "")
		require.NoError(t, err)
		require.Equal(t, u.ID, got.ID)
		require.Equal(t, rbac.Roles{rbac.RoleInstructor}, got.Roles)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := h.users.Authenticate(ctx, "amelia", "nope nope nope", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user looks the same", func(t *testing.T) {
		_, err := h.users.Authenticate(ctx, "ghost", "correct horse battery", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
		require.True(t, IsUnauthorized(err))
	})

	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LoginAttempts.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LoginAttempts.WithLabelValues("unknown_user")))
}

func TestCreateUserValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	u := h.createUser(t, "amelia")
	require.Equal(t, rbac.Roles{rbac.RoleStudent}, u.Roles, "roles default to student")

	_, err := h.users.CreateUser(ctx, CreateUserParams{Username: "AMELIA", Password: "long enough pw"})
	require.ErrorIs(t, err, ErrUserExists)

	_, err = h.users.CreateUser(ctx, CreateUserParams{Username: "bert", Password: "short"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.users.CreateUser(ctx, CreateUserParams{Username: "   ", Password: "long enough pw"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.users.CreateUser(ctx, CreateUserParams{Username: "carl", Password: "long enough pw", Roles: rbac.Roles{99}})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.users.GetUserByID(ctx, "missing")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.createUser(t, "amelia", rbac.RoleStudent)

	pair, err := h.tokens.Issue(ctx, u)
	require.NoError(t, err)

	_, err = h.users.ChangePassword(ctx, u.ID, "wrong current", "brand new password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	n, err := h.users.ChangePassword(ctx, u.ID, "correct horse battery", "brand new password")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = h.tokens.Rotate(ctx, pair.RefreshToken, u.ID)
	require.ErrorIs(t, err, ErrTokenRevoked)

	_, err = h.users.Authenticate(ctx, "amelia", "brand new password", "")
	require.NoError(t, err)

	history, err := h.tokens.ListSessions(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReasonPasswordChanged, history[0].RevocationReason)
}

func TestTOTPLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.createUser(t, "amelia", rbac.RoleStudent)

	require.ErrorIs(t, h.mfa.ConfirmTOTP(ctx, u.ID, "123456"), ErrMFANotEnrolled)

	enrollment, err := h.mfa.EnrollTOTP(ctx, u.ID)
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.Contains(t, enrollment.URL, "otpauth://totp/")
	require.Contains(t, enrollment.URL, "issuer=FlightDesk")

	// Pending secrets are not enforced yet.
	_, err = h.users.Authenticate(ctx, "amelia", "correct horse battery", "")
	require.NoError(t, err)

	require.ErrorIs(t, h.mfa.ConfirmTOTP(ctx, u.ID, "abcdef"), ErrInvalidTOTPCode)

	code, err := totp.GenerateCode(enrollment.Secret, h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.mfa.ConfirmTOTP(ctx, u.ID, code))
	require.ErrorIs(t, h.mfa.ConfirmTOTP(ctx, u.ID, code), ErrMFAAlreadyEnabled)

	_, err = h.mfa.EnrollTOTP(ctx, u.ID)
	require.ErrorIs(t, err, ErrMFAAlreadyEnabled)

	t.Run("login now needs a code", func(t *testing.T) {
		_, err := h.users.Authenticate(ctx, "amelia", "correct horse battery", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)

		h.clock.Set(h.clock.Now().Add(5 * time.Minute))
		code, err := totp.GenerateCode(enrollment.Secret, h.clock.Now())
		require.NoError(t, err)
		_, err = h.users.Authenticate(ctx, "amelia", "correct horse battery", code)
		require.NoError(t, err)
		require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LoginAttempts.WithLabelValues("bad_otp")))
	})

	t.Run("reset clears mfa", func(t *testing.T) {
		require.NoError(t, h.mfa.ResetTOTP(ctx, u.ID))
		_, err := h.users.Authenticate(ctx, "amelia", "correct horse battery", "")
		require.NoError(t, err)
		require.ErrorIs(t, h.mfa.ResetTOTP(ctx, "missing"), ErrUserNotFound)
	})
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	params := CreateUserParams{Username: "root", Password: "correct horse battery", Roles: rbac.Roles{rbac.RoleStudent}}

	disabled := &BootstrapService{Store: h.store, Users: h.users}
	_, err := disabled.Bootstrap(ctx, "", params)
	require.ErrorIs(t, err, ErrBootstrapDisabled)

	svc := &BootstrapService{Store: h.store, Users: h.users, Token: "let-me-in"}
	_, err = svc.Bootstrap(ctx, "wrong", params)
	require.ErrorIs(t, err, ErrBootstrapUnauthorized)

	u, err := svc.Bootstrap(ctx, "let-me-in", params)
	require.NoError(t, err)
	require.Equal(t, rbac.Roles{rbac.RoleSuperAdmin}, u.Roles)

	_, err = svc.Bootstrap(ctx, "let-me-in", params)
	require.ErrorIs(t, err, ErrBootstrapAlready)
}

func TestRolesService(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	svc := &RolesService{Users: h.store.Users()}

	all := svc.ListAll()
	require.Len(t, all, 5)
	require.Equal(t, rbac.RoleStudent, all[0].Role)
	require.Contains(t, all[len(all)-1].Capabilities, "tenants:manage")

	require.ErrorIs(t, svc.SetUserRoles(ctx, "missing", rbac.Roles{rbac.RoleAdmin}), ErrUserNotFound)
	require.ErrorIs(t, svc.SetUserRoles(ctx, "missing", nil), ErrInvalidRequest)
}

func TestHousekeepingRunOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.createUser(t, "amelia", rbac.RoleStudent)

	for range 3 {
		_, err := h.tokens.Issue(ctx, u)
		require.NoError(t, err)
	}

	m := metrics.Noop()
	hk := NewHousekeepingService(h.store.RefreshTokens(), m, discardLogger(), time.Minute)
	hk.Now = h.clock.Now

	hk.RunOnce(ctx)
	require.Equal(t, 3.0, testutil.ToFloat64(m.ActiveRefreshTokens))

	h.clock.Set(h.clock.Now().Add(8 * 24 * time.Hour))
	hk.RunOnce(ctx)
	require.Equal(t, 0.0, testutil.ToFloat64(m.ActiveRefreshTokens))

	hk.Start()
	hk.Stop()
}
