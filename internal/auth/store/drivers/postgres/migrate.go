package postgres

import (
	"context"
	"fmt"

	"github.com/flightdesk/flightdesk/internal/auth/store/drivers/postgres/migrations"
	"github.com/pressly/goose/v3"
)

// ApplyMigrations runs pending goose migrations from the embedded files.
func (s *Store) ApplyMigrations(ctx context.Context) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, s.db, migrations.Migrations)
	if err != nil {
		return fmt.Errorf("postgres: migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("postgres: migrate up: %w", err)
	}
	return nil
}
