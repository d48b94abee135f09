package sqlite_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/domain"
	"github.com/flightdesk/flightdesk/internal/auth/store"
	"github.com/flightdesk/flightdesk/internal/auth/store/drivers/sqlite"
	"github.com/flightdesk/flightdesk/pkg/idx"
	"github.com/flightdesk/flightdesk/pkg/rbac"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations(context.Background()))
	return s
}

func createUser(t *testing.T, s *sqlite.Store, username string, roles ...rbac.Role) domain.User {
	t.Helper()
	u := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		PasswordHash: "$argon2id$placeholder",
		Roles:        roles,
	}
	require.NoError(t, s.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.Users().CreateUser(context.Background(), u)
	}))
	return u
}

func newToken(userID, sessionID, hash string, issued time.Time) domain.RefreshToken {
	return domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    userID,
		TokenHash: hash,
		SessionID: sessionID,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(time.Hour),
	}
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ApplyMigrations(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := createUser(t, s, "Amelia", rbac.RoleInstructor, rbac.RoleStudent)

	t.Run("get by id loads roles", func(t *testing.T) {
		got, err := s.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.Equal(t, "Amelia", got.Username)
		require.Equal(t, rbac.Roles{rbac.RoleStudent, rbac.RoleInstructor}, got.Roles)
		require.False(t, got.TOTPEnabled())
	})

	t.Run("username is case insensitive", func(t *testing.T) {
		got, err := s.Users().GetUserByUsername(ctx, "amelia")
		require.NoError(t, err)
		require.Equal(t, u.ID, got.ID)
	})

	t.Run("duplicate username", func(t *testing.T) {
		dup := domain.User{ID: idx.New().String(), Username: "AMELIA", PasswordHash: "x"}
		require.ErrorIs(t, s.Users().CreateUser(ctx, dup), store.ErrAlreadyExists)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := s.Users().GetUserByID(ctx, "nope")
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, s.Users().UpdatePasswordHash(ctx, "nope", "x"), store.ErrNotFound)
	})

	t.Run("set roles", func(t *testing.T) {
		require.NoError(t, s.Users().SetUserRoles(ctx, u.ID, rbac.Roles{rbac.RoleAdmin}))
		got, err := s.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.Equal(t, rbac.Roles{rbac.RoleAdmin}, got.Roles)
	})

	t.Run("totp lifecycle", func(t *testing.T) {
		require.NoError(t, s.Users().SetTOTPSecret(ctx, u.ID, "JBSWY3DPEHPK3PXP"))
		got, err := s.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.False(t, got.TOTPEnabled())

		at := time.Unix(1_700_000_000, 0).UTC()
		require.NoError(t, s.Users().EnableTOTP(ctx, u.ID, at))
		got, err = s.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.True(t, got.TOTPEnabled())
		require.True(t, at.Equal(*got.TOTPEnabledAt))

		require.NoError(t, s.Users().DisableTOTP(ctx, u.ID))
		got, err = s.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.False(t, got.TOTPEnabled())
	})

	t.Run("count", func(t *testing.T) {
		n, err := s.Users().CountUsers(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})
}

func TestRefreshTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := createUser(t, s, "amelia", rbac.RoleStudent)
	now := time.Unix(1_700_000_000, 0).UTC()
	repo := s.RefreshTokens()

	first := newToken(u.ID, "sess-1", "hash-1", now)
	require.NoError(t, repo.CreateRefreshToken(ctx, first))

	t.Run("duplicate hash", func(t *testing.T) {
		dup := newToken(u.ID, "sess-2", "hash-1", now)
		require.ErrorIs(t, repo.CreateRefreshToken(ctx, dup), store.ErrAlreadyExists)
	})

	t.Run("second live token in one session is rejected", func(t *testing.T) {
		other := newToken(u.ID, "sess-1", "hash-other", now)
		require.ErrorIs(t, repo.CreateRefreshToken(ctx, other), store.ErrAlreadyExists)
	})

	t.Run("get by hash round trips", func(t *testing.T) {
		got, err := repo.GetRefreshTokenByHash(ctx, "hash-1")
		require.NoError(t, err)
		require.Equal(t, first.ID, got.ID)
		require.True(t, first.ExpiresAt.Equal(got.ExpiresAt))
		require.False(t, got.Revoked)
	})

	second := newToken(u.ID, "sess-1", "hash-2", now.Add(time.Minute))

	t.Run("rotate links old to new", func(t *testing.T) {
		require.NoError(t, repo.RotateRefreshToken(ctx, "hash-1", second, now.Add(time.Minute)))

		old, err := repo.GetRefreshTokenByID(ctx, first.ID)
		require.NoError(t, err)
		require.True(t, old.Revoked)
		require.Equal(t, domain.ReasonRotated, old.RevocationReason)
		require.Equal(t, second.ID, old.ReplacedBy)
		require.NotNil(t, old.RevokedAt)

		got, err := repo.GetRefreshTokenByHash(ctx, "hash-2")
		require.NoError(t, err)
		require.False(t, got.Revoked)
	})

	t.Run("rotate revoked token conflicts and writes nothing", func(t *testing.T) {
		third := newToken(u.ID, "sess-1", "hash-3", now)
		require.ErrorIs(t, repo.RotateRefreshToken(ctx, "hash-1", third, now), store.ErrConflict)
		_, err := repo.GetRefreshTokenByHash(ctx, "hash-3")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("rotate unknown", func(t *testing.T) {
		next := newToken(u.ID, "sess-9", "hash-9", now)
		require.ErrorIs(t, repo.RotateRefreshToken(ctx, "nope", next, now), store.ErrNotFound)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		ok, err := repo.RevokeRefreshToken(ctx, second.ID, domain.ReasonLogout, now)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = repo.RevokeRefreshToken(ctx, second.ID, domain.ReasonAdmin, now)
		require.NoError(t, err)
		require.False(t, ok)

		got, err := repo.GetRefreshTokenByID(ctx, second.ID)
		require.NoError(t, err)
		require.Equal(t, domain.ReasonLogout, got.RevocationReason, "first reason sticks")

		_, err = repo.RevokeRefreshToken(ctx, "missing", domain.ReasonLogout, now)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list is newest first and keeps revoked rows", func(t *testing.T) {
		list, err := repo.ListUserRefreshTokens(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, second.ID, list[0].ID)
		require.Equal(t, first.ID, list[1].ID)
	})
}

func TestRevokeAllAndCountActive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := createUser(t, s, "amelia", rbac.RoleStudent)
	other := createUser(t, s, "bert", rbac.RoleStudent)
	now := time.Unix(1_700_000_000, 0).UTC()
	repo := s.RefreshTokens()

	require.NoError(t, repo.CreateRefreshToken(ctx, newToken(u.ID, "a", "h-a", now)))
	require.NoError(t, repo.CreateRefreshToken(ctx, newToken(u.ID, "b", "h-b", now)))
	expired := newToken(u.ID, "c", "h-c", now.Add(-2*time.Hour))
	require.NoError(t, repo.CreateRefreshToken(ctx, expired))
	require.NoError(t, repo.CreateRefreshToken(ctx, newToken(other.ID, "d", "h-d", now)))

	n, err := repo.CountActiveRefreshTokens(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// Exactly at expiry the token no longer counts.
	n, err = repo.CountActiveRefreshTokens(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	revoked, err := repo.RevokeAllUserRefreshTokens(ctx, u.ID, domain.ReasonAdmin, now)
	require.NoError(t, err)
	require.Equal(t, 3, revoked, "expired but unrevoked rows are revoked too")

	n, err = repo.CountActiveRefreshTokens(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestConcurrentRotationHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := createUser(t, s, "amelia", rbac.RoleStudent)
	now := time.Unix(1_700_000_000, 0).UTC()
	repo := s.RefreshTokens()
	require.NoError(t, repo.CreateRefreshToken(ctx, newToken(u.ID, "sess", "root", now)))

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := range racers {
		wg.Go(func() {
			next := newToken(u.ID, "sess", idx.New().String(), now)
			errs[i] = repo.RotateRefreshToken(ctx, "root", next, now)
		})
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, store.ErrConflict)
	}
	require.Equal(t, 1, wins)
}

func TestTxRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		u := domain.User{ID: idx.New().String(), Username: "ghost", PasswordHash: "x"}
		if err := tx.Users().CreateUser(ctx, u); err != nil {
			return err
		}
		return store.ErrConflict
	})
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.Users().GetUserByUsername(ctx, "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}
