package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MERCARO_AUTH_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "development" {
		t.Fatalf("unexpected env: %s", cfg.Env)
	}
	if cfg.Production() {
		t.Fatal("development must not report production")
	}
	if cfg.AccessTokenTTL != time.Hour {
		t.Fatalf("unexpected access ttl: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 72*time.Hour {
		t.Fatalf("unexpected refresh ttl: %v", cfg.RefreshTokenTTL)
	}
	if cfg.UserRefreshCookieTTL != 168*time.Hour {
		t.Fatalf("unexpected user cookie ttl: %v", cfg.UserRefreshCookieTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MERCARO_AUTH_SECRET", "test-secret")
	t.Setenv("MERCARO_ENV", "production")
	t.Setenv("MERCARO_ACCESS_TTL", "30m")
	t.Setenv("MERCARO_CACHE_TTL", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Production() {
		t.Fatal("expected production mode")
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.AccessTokenTTL)
	}
	if cfg.CacheTTL != 90*time.Second {
		t.Fatalf("unexpected cache ttl: %v", cfg.CacheTTL)
	}
}

func TestLoadMissingSecret(t *testing.T) {
	t.Setenv("MERCARO_AUTH_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without auth secret")
	}
}
