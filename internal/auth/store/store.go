package store

import (
	"context"
	"errors"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/domain"
	"github.com/flightdesk/flightdesk/pkg/rbac"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict is returned when a conditional write lost to a concurrent
	// writer, e.g. a second rotation of an already-rotated refresh token.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. It exposes sub-repositories so callers cannot open a
// transaction inside a transaction by accident.
type Store interface {
	Users() Users
	RefreshTokens() RefreshTokens

	ApplyMigrations(ctx context.Context) error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. Inside fn only
	// the repositories of tx may be used.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a user and their roles.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByUsername is used during login. Usernames compare case-insensitively.
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// CreateUser inserts the user and their role memberships. Returns
	// ErrAlreadyExists when the username is taken.
	CreateUser(ctx context.Context, u domain.User) error

	// SetUserRoles replaces the user's role memberships.
	SetUserRoles(ctx context.Context, userID string, roles rbac.Roles) error

	// UpdatePasswordHash sets the password_hash (argon2) and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, userID string, newHash string) error

	// SetTOTPSecret stores a pending secret and clears any enabled timestamp.
	SetTOTPSecret(ctx context.Context, userID string, secret string) error

	// EnableTOTP marks the pending secret active.
	EnableTOTP(ctx context.Context, userID string, at time.Time) error

	// DisableTOTP clears the secret and enabled timestamp.
	DisableTOTP(ctx context.Context, userID string) error

	// CountUsers returns the number of users.
	CountUsers(ctx context.Context) (int, error)
}

// RefreshTokens persists refresh token rows. Rows are never deleted.
type RefreshTokens interface {
	// CreateRefreshToken stores a new, live refresh token record.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the token by its fingerprint.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// GetRefreshTokenByID returns the token by its row id.
	GetRefreshTokenByID(ctx context.Context, id string) (domain.RefreshToken, error)

	// RotateRefreshToken atomically revokes the token with oldHash (reason
	// rotated, replaced_by next.ID) and inserts next. Returns ErrNotFound when
	// oldHash is unknown and ErrConflict when it is already revoked, in which
	// case nothing is written.
	RotateRefreshToken(ctx context.Context, oldHash string, next domain.RefreshToken, now time.Time) error

	// RevokeRefreshToken revokes a live token by id. It reports false when
	// the token was already revoked and ErrNotFound when it does not exist.
	RevokeRefreshToken(
		ctx context.Context,
		id string,
		reason domain.RevocationReason,
		now time.Time,
	) (bool, error)

	// RevokeAllUserRefreshTokens revokes every non-revoked token of userID and
	// returns how many changed.
	RevokeAllUserRefreshTokens(
		ctx context.Context,
		userID string,
		reason domain.RevocationReason,
		now time.Time,
	) (int, error)

	// ListUserRefreshTokens returns a user's token history, newest first.
	ListUserRefreshTokens(ctx context.Context, userID string) ([]domain.RefreshToken, error)

	// CountActiveRefreshTokens counts non-revoked tokens with expires_at > now.
	CountActiveRefreshTokens(ctx context.Context, now time.Time) (int, error)
}
