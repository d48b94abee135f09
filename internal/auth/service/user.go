package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/domain"
	"github.com/flightdesk/flightdesk/internal/auth/metrics"
	"github.com/flightdesk/flightdesk/internal/auth/store"
	"github.com/flightdesk/flightdesk/pkg/cryptox"
	"github.com/flightdesk/flightdesk/pkg/idx"
	"github.com/flightdesk/flightdesk/pkg/rbac"
	"github.com/flightdesk/flightdesk/pkg/slogx"
)

const (
	MinPasswordLength = 8
	MaxUsernameLength = 64
)

type UserService struct {
	Store  store.Store
	Hasher *cryptox.PasswordHasher

	// Tokens is used to end every session after a password change.
	Tokens *TokenService

	Metrics *metrics.Metrics
	Now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// CreateUserParams is the input to CreateUser. Roles default to STUDENT.
type CreateUserParams struct {
	Username    string
	DisplayName string
	Password    string
	Roles       rbac.Roles
}

func (s *UserService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// GetUserByID fetches a user by id.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrUserNotFound
	}
	return u, err
}

// Authenticate checks a username/password pair and, when the user has TOTP
// enabled, the one-time code. Every failure collapses to
// ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, username, password, otpCode string) (domain.User, error) {
	l := slogx.FromContext(ctx)
	username = strings.TrimSpace(username)

	u, err := s.Store.Users().GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		// Burn the same hashing cost as a real check.
		_ = s.Hasher.Verify(password, s.fakeHash())
		s.countLogin("unknown_user")
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}

	if err := s.Hasher.Verify(password, u.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			l.Error("stored password hash unreadable", slog.String("user_id", u.ID), slog.Any("error", err))
		}
		s.countLogin("bad_password")
		return domain.User{}, ErrInvalidCredentials
	}

	if u.TOTPEnabled() && !validateTOTP(otpCode, u.TOTPSecret, s.now()) {
		s.countLogin("bad_otp")
		return domain.User{}, ErrInvalidCredentials
	}

	s.countLogin("ok")
	return u, nil
}

// CreateUser stores a new user with its roles in one transaction.
func (s *UserService) CreateUser(ctx context.Context, p CreateUserParams) (domain.User, error) {
	username := strings.TrimSpace(p.Username)
	if username == "" || len(username) > MaxUsernameLength {
		return domain.User{}, fmt.Errorf("%w: username must be 1-%d characters", ErrInvalidRequest, MaxUsernameLength)
	}
	if len(p.Password) < MinPasswordLength {
		return domain.User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRequest, MinPasswordLength)
	}

	roles := p.Roles.Normalize()
	if len(roles) == 0 {
		roles = rbac.Roles{rbac.RoleStudent}
	}
	for _, r := range roles {
		if !r.Valid() {
			return domain.User{}, fmt.Errorf("%w: %w", ErrInvalidRequest, rbac.ErrUnknownRole)
		}
	}

	hash, err := s.Hasher.Hash(p.Password)
	if err != nil {
		return domain.User{}, err
	}

	now := s.now()
	u := domain.User{
		ID:           idx.NewAt(now).String(),
		Username:     username,
		DisplayName:  strings.TrimSpace(p.DisplayName),
		PasswordHash: hash,
		Roles:        roles,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Users().CreateUser(ctx, u)
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		return domain.User{}, ErrUserExists
	}
	if err != nil {
		return domain.User{}, err
	}

	slogx.FromContext(ctx).Info("user created",
		slog.String("user_id", u.ID),
		slog.Any("roles", roles.Strings()),
	)
	return u, nil
}

// ChangePassword replaces the password after checking the current one and
// revokes every refresh token of the user.
func (s *UserService) ChangePassword(ctx context.Context, userID, current, next string) (int, error) {
	if len(next) < MinPasswordLength {
		return 0, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRequest, MinPasswordLength)
	}

	u, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := s.Hasher.Verify(current, u.PasswordHash); err != nil {
		return 0, ErrInvalidCredentials
	}

	hash, err := s.Hasher.Hash(next)
	if err != nil {
		return 0, err
	}
	if err := s.Store.Users().UpdatePasswordHash(ctx, userID, hash); err != nil {
		return 0, err
	}

	if s.Tokens == nil {
		return 0, nil
	}
	return s.Tokens.RevokeAllForUser(ctx, userID, domain.ReasonPasswordChanged)
}

func (s *UserService) fakeHash() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.Hasher.Hash("flightdesk-placeholder-password")
	})
	return s.dummyHash
}

func (s *UserService) countLogin(result string) {
	if s.Metrics != nil {
		s.Metrics.LoginAttempts.WithLabelValues(result).Inc()
	}
}
