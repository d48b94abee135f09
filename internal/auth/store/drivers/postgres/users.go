package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/domain"
	"github.com/flightdesk/flightdesk/pkg/rbac"
)

type usersRepo struct {
	q dbtx
}

const userColumns = `id, username, display_name, password_hash, totp_secret, totp_enabled_at, created_at, updated_at`

func (r *usersRepo) getUser(ctx context.Context, where string, arg any) (domain.User, error) {
	var (
		u         domain.User
		secret    sql.NullString
		enabledAt sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &secret, &enabledAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.TOTPSecret = secret.String
	u.TOTPEnabledAt = mapNullTimePtr(enabledAt)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()

	rows, err := r.q.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id = $1`, u.ID)
	if err != nil {
		return domain.User{}, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return domain.User{}, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return domain.User{}, err
	}
	if u.Roles, err = rbac.ParseRoles(names); err != nil {
		return domain.User{}, fmt.Errorf("postgres: user %s: %w", u.ID, err)
	}
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return r.getUser(ctx, `id = $1`, id)
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return r.getUser(ctx, `lower(username) = lower($1)`, username)
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Username, u.DisplayName, u.PasswordHash,
		mapStringNull(u.TOTPSecret), mapOptionalTime(u.TOTPEnabledAt), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return mapConstraint(err)
	}
	return r.insertRoles(ctx, u.ID, u.Roles)
}

func (r *usersRepo) insertRoles(ctx context.Context, userID string, roles rbac.Roles) error {
	for _, role := range roles.Normalize() {
		if _, err := r.q.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role) VALUES ($1, $2)`, userID, role.String()); err != nil {
			return mapConstraint(err)
		}
	}
	return nil
}

func (r *usersRepo) SetUserRoles(ctx context.Context, userID string, roles rbac.Roles) error {
	err := rowsAffected(r.q.ExecContext(ctx, `UPDATE users SET updated_at = now() WHERE id = $1`, userID))
	if err != nil {
		return err
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return err
	}
	return r.insertRoles(ctx, userID, roles)
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID string, newHash string) error {
	return rowsAffected(r.q.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, newHash, userID))
}

func (r *usersRepo) SetTOTPSecret(ctx context.Context, userID string, secret string) error {
	return rowsAffected(r.q.ExecContext(ctx,
		`UPDATE users SET totp_secret = $1, totp_enabled_at = NULL, updated_at = now() WHERE id = $2`,
		secret, userID))
}

func (r *usersRepo) EnableTOTP(ctx context.Context, userID string, at time.Time) error {
	return rowsAffected(r.q.ExecContext(ctx,
		`UPDATE users SET totp_enabled_at = $1, updated_at = $1 WHERE id = $2 AND totp_secret IS NOT NULL`,
		at.UTC(), userID))
}

func (r *usersRepo) DisableTOTP(ctx context.Context, userID string) error {
	return rowsAffected(r.q.ExecContext(ctx,
		`UPDATE users SET totp_secret = NULL, totp_enabled_at = NULL, updated_at = now() WHERE id = $1`, userID))
}

func (r *usersRepo) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
