package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/store/drivers/redis"
	"github.com/stretchr/testify/require"
)

const testSecret = "config-test-secret-0123456789abcdef"

// isolateEnv blanks every variable LoadConfig reads so the host environment
// cannot leak into a test.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, s := range settings {
		t.Setenv(s.env, "")
	}
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("AUTH_PEPPER_FILE", filepath.Join(t.TempDir(), "pepper"))
}

func TestLoadConfigDefaults(t *testing.T) {
	isolateEnv(t)
	t.Setenv("AUTH_SECRET", testSecret)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "flightdesk-auth", cfg.Issuer)
	require.Equal(t, StoreSQLite, cfg.Store)
	require.Equal(t, StoreSQLite, cfg.TokenStore)
	require.Equal(t, "auth.db", cfg.DatabaseFile)
	require.Equal(t, redis.DefaultPrefix, cfg.RedisPrefix)
	require.Equal(t, 15*time.Minute, cfg.AccessTTL)
	require.Equal(t, 7*24*time.Hour, cfg.RefreshTTL)
	require.False(t, cfg.ReuseDetection)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 10*time.Second, cfg.ShutdownGracePeriod)
	require.Equal(t, time.Minute, cfg.HousekeepingInterval)
	require.NotEmpty(t, cfg.Pepper, "pepper should be generated into the pepper file")
}

func TestLoadConfigFromEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv("AUTH_SECRET", testSecret)
	t.Setenv("AUTH_ISSUER", "flightdesk-staging")
	t.Setenv("AUTH_ACCESS_TTL", "5m")
	t.Setenv("AUTH_REFRESH_TTL", "12h")
	t.Setenv("AUTH_REUSE_DETECTION", "true")
	t.Setenv("AUTH_TOKEN_STORE", "Redis")
	t.Setenv("AUTH_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PORT", "9090")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "flightdesk-staging", cfg.Issuer)
	require.Equal(t, 5*time.Minute, cfg.AccessTTL)
	require.Equal(t, 12*time.Hour, cfg.RefreshTTL)
	require.True(t, cfg.ReuseDetection)
	require.Equal(t, StoreRedis, cfg.TokenStore)
	require.Equal(t, 9090, cfg.Port)
}

func TestLoadConfigFile(t *testing.T) {
	isolateEnv(t)

	file := filepath.Join(t.TempDir(), "auth.yaml")
	require.NoError(t, os.WriteFile(file, []byte(
		"issuer: from-file\nsecret: "+testSecret+"\nport: 7000\n"), 0o600))
	t.Setenv("CONFIG_FILE", file)
	t.Setenv("PORT", "7100")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "from-file", cfg.Issuer)
	require.Equal(t, testSecret, cfg.Secret)
	require.Equal(t, 7100, cfg.Port, "environment should win over the file")
}

func TestLoadConfigSecretFile(t *testing.T) {
	isolateEnv(t)
	file := filepath.Join(t.TempDir(), "secrets", "signing")
	t.Setenv("AUTH_SECRET_FILE", file)

	first, err := LoadConfig()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(first.Secret), minSecretLength)

	second, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, first.Secret, second.Secret, "secret must survive restarts")
}

func TestValidate(t *testing.T) {
	valid := Config{
		Issuer:       "flightdesk-auth",
		Secret:       testSecret,
		Store:        StoreSQLite,
		TokenStore:   StoreSQLite,
		DatabaseFile: "auth.db",
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   time.Hour,
		Port:         8080,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"short secret", func(c *Config) { c.Secret = "short" }, "AUTH_SECRET"},
		{"empty issuer", func(c *Config) { c.Issuer = " " }, "AUTH_ISSUER"},
		{"unknown store", func(c *Config) { c.Store = "mysql" }, "AUTH_STORE"},
		{"postgres without url", func(c *Config) { c.Store, c.TokenStore = StorePostgres, StorePostgres }, "AUTH_DATABASE_URL"},
		{"redis without url", func(c *Config) { c.TokenStore = StoreRedis }, "AUTH_REDIS_URL"},
		{"mixed sql stores", func(c *Config) { c.TokenStore = StorePostgres }, "AUTH_TOKEN_STORE"},
		{"access outlives refresh", func(c *Config) { c.AccessTTL = 2 * time.Hour }, "AUTH_ACCESS_TTL"},
		{"zero ttl", func(c *Config) { c.AccessTTL = 0 }, "TTLs must be positive"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "PORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			require.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	err := Config{Store: "mysql", Port: -1}.Validate()
	require.Error(t, err)
	for _, want := range []string{"AUTH_ISSUER", "AUTH_SECRET", "AUTH_STORE", "PORT"} {
		require.ErrorContains(t, err, want)
	}
}
