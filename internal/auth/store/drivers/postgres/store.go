// Package postgres is the PostgreSQL store driver (pgx via database/sql).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/store"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const pgUniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

// NewStore connects with a postgres URL and verifies the connection.
func NewStore(ctx context.Context, url string) (*Store, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return NewStoreFromDB(db), nil
}

// NewStoreFromDB wraps an existing handle.
func NewStoreFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &txStore{tx: tx}, nil
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
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

func (s *Store) Users() store.Users { return &usersRepo{q: s.db} }

func (s *Store) RefreshTokens() store.RefreshTokens {
	return &refreshTokensRepo{q: s.db, begin: s.db.BeginTx}
}

type txStore struct {
	tx *sql.Tx
}

func (t *txStore) Commit() error                                         { return t.tx.Commit() }
func (t *txStore) Rollback() error                                       { return t.tx.Rollback() }
func (t *txStore) Close() error                                          { return nil }
func (t *txStore) Ping(context.Context) error                            { return nil }
func (t *txStore) ApplyMigrations(context.Context) error                 { return nil }
func (t *txStore) Tx(context.Context) (store.Tx, error)                  { return nil, sql.ErrTxDone }
func (t *txStore) WithTx(context.Context, func(tx store.Tx) error) error { return sql.ErrTxDone }
func (t *txStore) Users() store.Users                                    { return &usersRepo{q: t.tx} }
func (t *txStore) RefreshTokens() store.RefreshTokens                    { return &refreshTokensRepo{q: t.tx} }

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mapConstraint(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrAlreadyExists, pgErr.ConstraintName)
	}
	return err
}

func mapStringNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func mapNullTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time.UTC()
		return &t
	}
	return nil
}

func mapOptionalTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// rowsAffected returns ErrNotFound when a single-row update matched nothing.
func rowsAffected(res sql.Result, err error) error {
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
