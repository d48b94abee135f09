package app

import (
	"context"
	"fmt"

	"github.com/flightdesk/flightdesk/internal/auth/store"
	"github.com/flightdesk/flightdesk/internal/auth/store/drivers/postgres"
	"github.com/flightdesk/flightdesk/internal/auth/store/drivers/redis"
	"github.com/flightdesk/flightdesk/internal/auth/store/drivers/sqlite"
	"github.com/flightdesk/flightdesk/pkg/cryptox"
	"github.com/flightdesk/flightdesk/pkg/jwtx"
)

// OpenStores connects the configured user store and, when AUTH_TOKEN_STORE
// is redis, the redis refresh token store. Migrations are not applied.
func OpenStores(ctx context.Context, cfg Config) (*Stores, error) {
	var (
		db  store.Store
		err error
	)
	switch cfg.Store {
	case StoreSQLite:
		db, err = sqlite.NewStore(cfg.DatabaseFile)
	case StorePostgres:
		db, err = postgres.NewStore(ctx, cfg.DatabaseURL)
	default:
		err = fmt.Errorf("unknown store %q", cfg.Store)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}

	s := &Stores{DB: db, Tokens: db.RefreshTokens()}
	s.closers = append(s.closers, db.Close)

	if cfg.TokenStore == StoreRedis {
		rs, err := redis.Connect(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to connect token store: %w", err)
		}
		s.Tokens = rs
		s.pinger = rs
		s.closers = append(s.closers, rs.Close)
	}

	return s, nil
}

func newSigner(cfg Config) (*jwtx.HS256, error) {
	signer, err := jwtx.NewHS256([]byte(cfg.Secret), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create token signer: %w", err)
	}
	return signer, nil
}

func newHasher(cfg Config) *cryptox.PasswordHasher {
	return cryptox.NewPasswordHasher(cfg.Pepper)
}
