package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/store/drivers/redis"
	"github.com/flightdesk/flightdesk/pkg/cryptox"
	"github.com/flightdesk/flightdesk/pkg/jwtx"
	"github.com/spf13/viper"
)

// Store backends selectable with AUTH_STORE and AUTH_TOKEN_STORE.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

const minSecretLength = jwtx.MinSecretSize

type Config struct {
	Issuer         string `mapstructure:"issuer"`          // issuer claim for tokens (default: flightdesk-auth)
	Secret         string `mapstructure:"secret"`          // HS256 signing secret; takes precedence over SecretFile
	SecretFile     string `mapstructure:"secret_file"`     // file holding the secret, generated when missing
	Pepper         string `mapstructure:"pepper"`          // password pepper; takes precedence over PepperFile
	PepperFile     string `mapstructure:"pepper_file"`     // file holding the pepper, generated when missing (default: ./pepper)
	BootstrapToken string `mapstructure:"bootstrap_token"` // Optional: token required to perform bootstrap

	Store        string `mapstructure:"store"`         // user store: sqlite or postgres (default: sqlite)
	DatabaseFile string `mapstructure:"database_file"` // sqlite path (default: ./auth.db)
	DatabaseURL  string `mapstructure:"database_url"`  // postgres URL
	TokenStore   string `mapstructure:"token_store"`   // refresh token store: empty (same as Store) or redis
	RedisURL     string `mapstructure:"redis_url"`
	RedisPrefix  string `mapstructure:"redis_prefix"`

	AccessTTL      time.Duration `mapstructure:"access_ttl"`      // default: 15m
	RefreshTTL     time.Duration `mapstructure:"refresh_ttl"`     // default: 168h
	ReuseDetection bool          `mapstructure:"reuse_detection"` // revoke descendants when a rotated token is replayed

	Env        string `mapstructure:"env"`        // Environment (dev, staging, prod) (default: dev)
	LogLevel   string `mapstructure:"log_level"`  // Log level (debug, info, warn, error) (default: info)
	LogFormat  string `mapstructure:"log_format"` // Log format (json, text) (default: json)
	LogFile    string `mapstructure:"log_file"`   // Optional: rotate logs into this file instead of stdout
	Port       int    `mapstructure:"port"`       // HTTP server port (default: 8080)
	TOTPIssuer string `mapstructure:"totp_issuer"`

	ShutdownGracePeriod  time.Duration `mapstructure:"shutdown_grace_period"` // default: 10s
	HousekeepingInterval time.Duration `mapstructure:"housekeeping_interval"` // default: 1m
}

// settings maps each config key to its environment variable and default.
var settings = []struct {
	key, env string
	def      any
}{
	{"issuer", "AUTH_ISSUER", "flightdesk-auth"},
	{"secret", "AUTH_SECRET", ""},
	{"secret_file", "AUTH_SECRET_FILE", ""},
	{"pepper", "AUTH_PEPPER", ""},
	{"pepper_file", "AUTH_PEPPER_FILE", "pepper"},
	{"bootstrap_token", "BOOTSTRAP_TOKEN", ""},
	{"store", "AUTH_STORE", StoreSQLite},
	{"database_file", "AUTH_DATABASE_FILE", "auth.db"},
	{"database_url", "AUTH_DATABASE_URL", ""},
	{"token_store", "AUTH_TOKEN_STORE", ""},
	{"redis_url", "AUTH_REDIS_URL", ""},
	{"redis_prefix", "AUTH_REDIS_PREFIX", redis.DefaultPrefix},
	{"access_ttl", "AUTH_ACCESS_TTL", jwtx.DefaultAccessTokenTTL},
	{"refresh_ttl", "AUTH_REFRESH_TTL", jwtx.DefaultRefreshTokenTTL},
	{"reuse_detection", "AUTH_REUSE_DETECTION", false},
	{"env", "ENV", "dev"},
	{"log_level", "LOG_LEVEL", "info"},
	{"log_format", "LOG_FORMAT", "json"},
	{"log_file", "LOG_FILE", ""},
	{"port", "PORT", 8080},
	{"totp_issuer", "AUTH_TOTP_ISSUER", "FlightDesk"},
	{"shutdown_grace_period", "SHUTDOWN_GRACE_PERIOD", 10 * time.Second},
	{"housekeeping_interval", "HOUSEKEEPING_INTERVAL", time.Minute},
}

// LoadConfig reads defaults, then the YAML file named by CONFIG_FILE (if
// any), then environment variables. Secrets held in files are resolved and
// the result validated.
func LoadConfig() (Config, error) {
	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", s.env, err)
		}
	}

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.resolveSecrets(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.TokenStore = strings.ToLower(strings.TrimSpace(c.TokenStore))
	if c.TokenStore == "" {
		c.TokenStore = c.Store
	}
}

// resolveSecrets fills Secret and Pepper from their files when they were not
// given directly.
func (c *Config) resolveSecrets() error {
	if c.Secret == "" && c.SecretFile != "" {
		s, err := cryptox.LoadOrCreateSecret(c.SecretFile, minSecretLength)
		if err != nil {
			return fmt.Errorf("load signing secret: %w", err)
		}
		c.Secret = s
	}
	if c.Pepper == "" && c.PepperFile != "" {
		p, err := cryptox.LoadOrCreateSecret(c.PepperFile, cryptox.PepperSize)
		if err != nil {
			return fmt.Errorf("load pepper: %w", err)
		}
		c.Pepper = p
	}
	return nil
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Issuer) == "" {
		errs = append(errs, errors.New("AUTH_ISSUER must not be empty"))
	}
	if len(c.Secret) < minSecretLength {
		errs = append(errs, fmt.Errorf("AUTH_SECRET (or AUTH_SECRET_FILE) must provide at least %d bytes", minSecretLength))
	}

	switch c.Store {
	case StoreSQLite:
		if c.DatabaseFile == "" {
			errs = append(errs, errors.New("AUTH_DATABASE_FILE is required for the sqlite store"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("AUTH_DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTH_STORE %q is not one of sqlite, postgres", c.Store))
	}

	switch c.TokenStore {
	case c.Store:
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("AUTH_REDIS_URL is required for the redis token store"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTH_TOKEN_STORE %q must be empty, redis or match AUTH_STORE", c.TokenStore))
	}

	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.AccessTTL >= c.RefreshTTL {
		errs = append(errs, errors.New("AUTH_ACCESS_TTL must be shorter than AUTH_REFRESH_TTL"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}

	return errors.Join(errs...)
}
