package sqlite

import (
	"context"
	"database/sql"

	"github.com/flightdesk/flightdesk/internal/auth/store"
)

type txStore struct {
	tx *sql.Tx
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx}
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

// Close is a no-op; the outer DB stays open.
func (t *txStore) Close() error { return nil }

// Ping is a no-op for transactions; the connection is already held.
func (t *txStore) Ping(ctx context.Context) error {
	return nil
}

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	// Nested tx not supported.
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

func (t *txStore) Users() store.Users { return &usersRepo{q: t.tx} }

// RefreshTokens inside a tx runs rotation in the caller's transaction.
func (t *txStore) RefreshTokens() store.RefreshTokens { return &refreshTokensRepo{q: t.tx} }

// ApplyMigrations is a no-op; migrations run before any tx is opened.
func (t *txStore) ApplyMigrations(ctx context.Context) error { return nil }
