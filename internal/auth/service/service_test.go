package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/domain"
	"github.com/flightdesk/flightdesk/internal/auth/metrics"
	"github.com/flightdesk/flightdesk/internal/auth/store/drivers/sqlite"
	"github.com/flightdesk/flightdesk/pkg/cryptox"
	"github.com/flightdesk/flightdesk/pkg/jwtx"
	"github.com/flightdesk/flightdesk/pkg/rbac"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type harness struct {
	store   *sqlite.Store
	clock   *testClock
	metrics *metrics.Metrics
	tokens  *TokenService
	users   *UserService
	mfa     *MFAService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations(context.Background()))

	clk := &testClock{t: time.Unix(1_700_000_000, 0).UTC()}
	h256, err := jwtx.NewHS256(testSecret, "flightdesk-test", jwtx.WithClock(clk.Now))
	require.NoError(t, err)

	m := metrics.Noop()
	tokens := &TokenService{
		Signer:     h256,
		Verifier:   h256,
		Users:      s.Users(),
		Tokens:     s.RefreshTokens(),
		Issuer:     "flightdesk-test",
		AccessTTL:  jwtx.DefaultAccessTokenTTL,
		RefreshTTL: jwtx.DefaultRefreshTokenTTL,
		Metrics:    m,
		Now:        clk.Now,
	}
	return &harness{
		store:   s,
		clock:   clk,
		metrics: m,
		tokens:  tokens,
		users: &UserService{
			Store:   s,
			Hasher:  cryptox.NewPasswordHasher("test-pepper"),
			Tokens:  tokens,
			Metrics: m,
			Now:     clk.Now,
		},
		mfa: &MFAService{Users: s.Users(), Issuer: "FlightDesk", Now: clk.Now},
	}
}

func (h *harness) createUser(t *testing.T, username string, roles ...rbac.Role) domain.User {
	t.Helper()
	u, err := h.users.CreateUser(context.Background(), CreateUserParams{
		Username: username,
		Password: "correct horse battery",
		Roles:    roles,
	})
	require.NoError(t, err)
	return u
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
