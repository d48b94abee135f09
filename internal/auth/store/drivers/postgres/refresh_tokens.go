package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/domain"
	"github.com/flightdesk/flightdesk/internal/auth/store"
)

type refreshTokensRepo struct {
	q dbtx

	// begin is nil when the repo already runs inside a caller's transaction.
	begin func(context.Context, *sql.TxOptions) (*sql.Tx, error)
}

const refreshTokenColumns = `id, user_id, token_hash, session_id, issued_at, expires_at,
	revoked, revocation_reason, revoked_at, replaced_by`

func scanRefreshToken(row interface{ Scan(...any) error }) (domain.RefreshToken, error) {
	var (
		t                  domain.RefreshToken
		reason, replacedBy sql.NullString
		revokedAt          sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.SessionID, &t.IssuedAt, &t.ExpiresAt,
		&t.Revoked, &reason, &revokedAt, &replacedBy)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.IssuedAt = t.IssuedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.RevocationReason = domain.RevocationReason(reason.String)
	t.RevokedAt = mapNullTimePtr(revokedAt)
	t.ReplacedBy = replacedBy.String
	return t, nil
}

func (r *refreshTokensRepo) atomic(ctx context.Context, fn func(q dbtx) error) error {
	if r.begin == nil {
		return fn(r.q)
	}

	tx, err := r.begin(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func insertRefreshToken(ctx context.Context, q dbtx, t domain.RefreshToken) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, session_id, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.UserID, t.TokenHash, t.SessionID, t.IssuedAt.UTC(), t.ExpiresAt.UTC(),
	)
	return mapConstraint(err)
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	return insertRefreshToken(ctx, r.q, t)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	return scanRefreshToken(r.q.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, hash))
}

func (r *refreshTokensRepo) GetRefreshTokenByID(ctx context.Context, id string) (domain.RefreshToken, error) {
	return scanRefreshToken(r.q.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE id = $1`, id))
}

// RotateRefreshToken locks the old row with SELECT ... FOR UPDATE so a
// concurrent rotation blocks until this one commits, then sees revoked.
func (r *refreshTokensRepo) RotateRefreshToken(
	ctx context.Context,
	oldHash string,
	next domain.RefreshToken,
	now time.Time,
) error {
	return r.atomic(ctx, func(q dbtx) error {
		var (
			id      string
			revoked bool
		)
		err := q.QueryRowContext(ctx,
			`SELECT id, revoked FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`, oldHash).
			Scan(&id, &revoked)
		if err != nil {
			return mapNotFound(err)
		}
		if revoked {
			return store.ErrConflict
		}

		_, err = q.ExecContext(ctx, `
			UPDATE refresh_tokens
			   SET revoked = TRUE, revocation_reason = $1, revoked_at = $2, replaced_by = $3
			 WHERE id = $4`,
			string(domain.ReasonRotated), now.UTC(), next.ID, id,
		)
		if err != nil {
			return err
		}

		return insertRefreshToken(ctx, q, next)
	})
}

func (r *refreshTokensRepo) RevokeRefreshToken(
	ctx context.Context,
	id string,
	reason domain.RevocationReason,
	now time.Time,
) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens
		   SET revoked = TRUE, revocation_reason = $1, revoked_at = $2
		 WHERE id = $3 AND NOT revoked`,
		string(reason), now.UTC(), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var one int
	if err := r.q.QueryRowContext(ctx, `SELECT 1 FROM refresh_tokens WHERE id = $1`, id).Scan(&one); err != nil {
		return false, mapNotFound(err)
	}
	return false, nil
}

func (r *refreshTokensRepo) RevokeAllUserRefreshTokens(
	ctx context.Context,
	userID string,
	reason domain.RevocationReason,
	now time.Time,
) (int, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens
		   SET revoked = TRUE, revocation_reason = $1, revoked_at = $2
		 WHERE user_id = $3 AND NOT revoked`,
		string(reason), now.UTC(), userID,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *refreshTokensRepo) ListUserRefreshTokens(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE user_id = $1 ORDER BY issued_at DESC, id DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RefreshToken
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *refreshTokensRepo) CountActiveRefreshTokens(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM refresh_tokens WHERE NOT revoked AND expires_at > $1`, now.UTC()).Scan(&n)
	return n, err
}
