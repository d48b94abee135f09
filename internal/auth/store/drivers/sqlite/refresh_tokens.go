package sqlite

import (
	"context"
	"database/sql"
	"errors"
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
		t                   domain.RefreshToken
		issuedAt, expiresAt int64
		reason, replacedBy  sql.NullString
		revokedAt           sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.SessionID, &issuedAt, &expiresAt,
		&t.Revoked, &reason, &revokedAt, &replacedBy)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.IssuedAt = fromUnix(issuedAt)
	t.ExpiresAt = fromUnix(expiresAt)
	t.RevocationReason = domain.RevocationReason(mapNullString(reason))
	t.RevokedAt = mapNullTimePtr(revokedAt)
	t.ReplacedBy = mapNullString(replacedBy)
	return t, nil
}

// atomic runs fn in a transaction, reusing the caller's when there is one.
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
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, t.SessionID, toUnix(t.IssuedAt), toUnix(t.ExpiresAt),
	)
	return mapConstraint(err)
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	return insertRefreshToken(ctx, r.q, t)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	return scanRefreshToken(r.q.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = ?`, hash))
}

func (r *refreshTokensRepo) GetRefreshTokenByID(ctx context.Context, id string) (domain.RefreshToken, error) {
	return scanRefreshToken(r.q.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE id = ?`, id))
}

func (r *refreshTokensRepo) RotateRefreshToken(
	ctx context.Context,
	oldHash string,
	next domain.RefreshToken,
	now time.Time,
) error {
	return r.atomic(ctx, func(q dbtx) error {
		// The revoked = 0 predicate is the compare-and-swap: only one
		// concurrent rotation can flip the row.
		res, err := q.ExecContext(ctx, `
			UPDATE refresh_tokens
			   SET revoked = 1, revocation_reason = ?, revoked_at = ?, replaced_by = ?
			 WHERE token_hash = ? AND revoked = 0`,
			string(domain.ReasonRotated), toUnix(now), next.ID, oldHash,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var one int
			err := q.QueryRowContext(ctx, `SELECT 1 FROM refresh_tokens WHERE token_hash = ?`, oldHash).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			if err != nil {
				return err
			}
			return store.ErrConflict
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
	var revoked bool
	err := r.atomic(ctx, func(q dbtx) error {
		res, err := q.ExecContext(ctx, `
			UPDATE refresh_tokens
			   SET revoked = 1, revocation_reason = ?, revoked_at = ?
			 WHERE id = ? AND revoked = 0`,
			string(reason), toUnix(now), id,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			revoked = true
			return nil
		}

		var one int
		return mapNotFound(q.QueryRowContext(ctx, `SELECT 1 FROM refresh_tokens WHERE id = ?`, id).Scan(&one))
	})
	return revoked, err
}

func (r *refreshTokensRepo) RevokeAllUserRefreshTokens(
	ctx context.Context,
	userID string,
	reason domain.RevocationReason,
	now time.Time,
) (int, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens
		   SET revoked = 1, revocation_reason = ?, revoked_at = ?
		 WHERE user_id = ? AND revoked = 0`,
		string(reason), toUnix(now), userID,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *refreshTokensRepo) ListUserRefreshTokens(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE user_id = ? ORDER BY issued_at DESC, id DESC`,
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
		`SELECT COUNT(*) FROM refresh_tokens WHERE revoked = 0 AND expires_at > ?`, toUnix(now)).Scan(&n)
	return n, err
}
