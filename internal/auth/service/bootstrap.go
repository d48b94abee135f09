package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/flightdesk/flightdesk/internal/auth/domain"
	"github.com/flightdesk/flightdesk/internal/auth/store"
	"github.com/flightdesk/flightdesk/pkg/rbac"
	"github.com/flightdesk/flightdesk/pkg/slogx"
)

var (
	ErrBootstrapDisabled     = errors.New("bootstrap not enabled")
	ErrBootstrapAlready      = errors.New("system already bootstrapped")
	ErrBootstrapUnauthorized = errors.New("unauthorized bootstrap attempt")
)

// BootstrapService creates the first SUPER_ADMIN on an empty database. It
// is only enabled when a bootstrap token is configured.
type BootstrapService struct {
	Store store.Store
	Users *UserService
	Token string // Pre-configured bootstrap token
}

func (s *BootstrapService) Enabled() bool { return s.Token != "" }

func (s *BootstrapService) IsBootstrapped(ctx context.Context) (bool, error) {
	n, err := s.Store.Users().CountUsers(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Bootstrap creates the initial super admin. Roles in p are ignored.
func (s *BootstrapService) Bootstrap(ctx context.Context, token string, p CreateUserParams) (domain.User, error) {
	l := slogx.FromContext(ctx)

	if !s.Enabled() {
		return domain.User{}, ErrBootstrapDisabled
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) != 1 {
		l.Warn("unauthorized bootstrap attempt")
		return domain.User{}, ErrBootstrapUnauthorized
	}

	bootstrapped, err := s.IsBootstrapped(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if bootstrapped {
		l.Warn("attempted bootstrap on already-bootstrapped system")
		return domain.User{}, ErrBootstrapAlready
	}

	p.Roles = rbac.Roles{rbac.RoleSuperAdmin}
	u, err := s.Users.CreateUser(ctx, p)
	if err != nil {
		return domain.User{}, err
	}

	l.Info("successfully bootstrapped system", slog.String("admin_user_id", u.ID))
	return u, nil
}
