package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries all process configuration, parsed from environment
// variables.
type Config struct {
	Env        string `env:"MERCARO_ENV" envDefault:"development"`
	ListenAddr string `env:"MERCARO_LISTEN_ADDR" envDefault:":8080"`

	PostgresDSN   string `env:"MERCARO_PG_DSN"`
	RedisAddr     string `env:"MERCARO_REDIS_ADDR"`
	RedisPassword string `env:"MERCARO_REDIS_PASSWORD"`

	TokenSecret string `env:"MERCARO_AUTH_SECRET"`

	AccessTokenTTL  time.Duration `env:"MERCARO_ACCESS_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"MERCARO_REFRESH_TTL" envDefault:"72h"`

	// Cookie lifetimes differ per identity class; the ledger record expiry
	// above stays authoritative either way.
	AdminRefreshCookieTTL time.Duration `env:"MERCARO_ADMIN_REFRESH_COOKIE_TTL" envDefault:"72h"`
	UserRefreshCookieTTL  time.Duration `env:"MERCARO_USER_REFRESH_COOKIE_TTL" envDefault:"168h"`

	CacheTTL time.Duration `env:"MERCARO_CACHE_TTL" envDefault:"5m"`

	MigrationsDir string `env:"MERCARO_MIGRATIONS_DIR" envDefault:"migrations"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TokenSecret == "" {
		return errors.New("config: MERCARO_AUTH_SECRET is required")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	return nil
}

// Production reports whether the process runs with production hardening
// (secure cookies, no error detail in responses).
func (c Config) Production() bool {
	return c.Env == "production"
}
