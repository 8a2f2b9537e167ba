package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"DATABASE_URL":      "postgres://localhost/kasir",
		"REDIS_URL":         "redis://localhost:6379/0",
		"PORT":              "",
		"APP_ENV":           "",
		"SYNC_BASE_URL":     "",
		"SYNC_MAX_ATTEMPTS": "",
		"SYNC_BACKOFF":      "",
		"SYNC_TIMEOUT":      "",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppEnv != "development" {
		t.Fatalf("AppEnv = %q", cfg.AppEnv)
	}
	if got := cfg.HTTPAddr(); got != ":8080" {
		t.Fatalf("HTTPAddr = %q", got)
	}
	if cfg.SyncMaxAttempts != 5 {
		t.Fatalf("SyncMaxAttempts = %d", cfg.SyncMaxAttempts)
	}
	if cfg.SyncBackoff != 500*time.Millisecond {
		t.Fatalf("SyncBackoff = %v", cfg.SyncBackoff)
	}
	if cfg.SyncTimeout != 10*time.Second {
		t.Fatalf("SyncTimeout = %v", cfg.SyncTimeout)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	_, err := LoadForTests(map[string]string{
		"DATABASE_URL": "",
		"REDIS_URL":    "redis://localhost:6379/0",
	})
	if err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
}

func TestLoadParsesSyncSettings(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"DATABASE_URL":      "postgres://localhost/kasir",
		"REDIS_URL":         "redis://localhost:6379/0",
		"SYNC_BASE_URL":     " https://sync.example.com ",
		"SYNC_API_KEY":      "secret",
		"SYNC_MAX_ATTEMPTS": "3",
		"SYNC_BACKOFF":      "250ms",
		"SYNC_TIMEOUT":      "5s",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SyncBaseURL != "https://sync.example.com" {
		t.Fatalf("SyncBaseURL = %q", cfg.SyncBaseURL)
	}
	if cfg.SyncMaxAttempts != 3 {
		t.Fatalf("SyncMaxAttempts = %d", cfg.SyncMaxAttempts)
	}
	if cfg.SyncBackoff != 250*time.Millisecond {
		t.Fatalf("SyncBackoff = %v", cfg.SyncBackoff)
	}
}

func TestCORSOriginsSplit(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"DATABASE_URL":         "postgres://localhost/kasir",
		"REDIS_URL":            "redis://localhost:6379/0",
		"CORS_ALLOWED_ORIGINS": "http://localhost:5173, https://kasir.example.com ,",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("origins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.CORSAllowedOrigins[1] != "https://kasir.example.com" {
		t.Fatalf("origins = %v", cfg.CORSAllowedOrigins)
	}
}
