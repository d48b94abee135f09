package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/domain"
	"github.com/flightdesk/flightdesk/internal/auth/store"
	"github.com/flightdesk/flightdesk/pkg/rbac"
)

type usersRepo struct {
	q dbtx
}

const userColumns = `id, username, display_name, password_hash, totp_secret, totp_enabled_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var (
		u                    domain.User
		secret               sql.NullString
		enabledAt            sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash,
		&secret, &enabledAt, &createdAt, &updatedAt); err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.TOTPSecret = mapNullString(secret)
	u.TOTPEnabledAt = mapNullTimePtr(enabledAt)
	u.CreatedAt = fromUnix(createdAt)
	u.UpdatedAt = fromUnix(updatedAt)
	return u, nil
}

func (r *usersRepo) loadRoles(ctx context.Context, u *domain.User) error {
	rows, err := r.q.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id = ?`, u.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	roles, err := rbac.ParseRoles(names)
	if err != nil {
		return fmt.Errorf("sqlite: user %s: %w", u.ID, err)
	}
	u.Roles = roles
	return nil
}

func (r *usersRepo) getUser(ctx context.Context, where string, arg any) (domain.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		return domain.User{}, err
	}
	if err := r.loadRoles(ctx, &u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return r.getUser(ctx, `id = ?`, id)
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return r.getUser(ctx, `username = ?`, username)
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.DisplayName, u.PasswordHash,
		mapStringNull(u.TOTPSecret), mapOptionalTime(u.TOTPEnabledAt),
		toUnix(u.CreatedAt), toUnix(u.UpdatedAt),
	)
	if err != nil {
		return mapConstraint(err)
	}
	return r.insertRoles(ctx, u.ID, u.Roles)
}

func (r *usersRepo) insertRoles(ctx context.Context, userID string, roles rbac.Roles) error {
	for _, role := range roles.Normalize() {
		if _, err := r.q.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role) VALUES (?, ?)`, userID, role.String()); err != nil {
			return mapConstraint(err)
		}
	}
	return nil
}

func (r *usersRepo) SetUserRoles(ctx context.Context, userID string, roles rbac.Roles) error {
	if err := r.touch(ctx, userID); err != nil {
		return err
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = ?`, userID); err != nil {
		return err
	}
	return r.insertRoles(ctx, userID, roles)
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID string, newHash string) error {
	return r.exec(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		newHash, toUnix(time.Now()), userID)
}

func (r *usersRepo) SetTOTPSecret(ctx context.Context, userID string, secret string) error {
	return r.exec(ctx, `UPDATE users SET totp_secret = ?, totp_enabled_at = NULL, updated_at = ? WHERE id = ?`,
		secret, toUnix(time.Now()), userID)
}

func (r *usersRepo) EnableTOTP(ctx context.Context, userID string, at time.Time) error {
	return r.exec(ctx,
		`UPDATE users SET totp_enabled_at = ?, updated_at = ? WHERE id = ? AND totp_secret IS NOT NULL`,
		toUnix(at), toUnix(at), userID)
}

func (r *usersRepo) DisableTOTP(ctx context.Context, userID string) error {
	return r.exec(ctx, `UPDATE users SET totp_secret = NULL, totp_enabled_at = NULL, updated_at = ? WHERE id = ?`,
		toUnix(time.Now()), userID)
}

func (r *usersRepo) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (r *usersRepo) touch(ctx context.Context, userID string) error {
	return r.exec(ctx, `UPDATE users SET updated_at = ? WHERE id = ?`, toUnix(time.Now()), userID)
}

// exec runs a single-row update and maps "no row matched" to ErrNotFound.
func (r *usersRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
