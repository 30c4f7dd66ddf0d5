package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("DATABASE_URL", "postgres://localhost:5432/engine")
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8086" {
		t.Fatalf("expected default port 8086, got %q", cfg.ServerPort)
	}
	if cfg.DueSweepSchedule != "0 6 * * *" {
		t.Fatalf("unexpected default sweep schedule %q", cfg.DueSweepSchedule)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Fatalf("expected default retry budget 3, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.LockTTLSeconds != 30 {
		t.Fatalf("expected default lock TTL 30s, got %d", cfg.LockTTLSeconds)
	}
}

func TestLoadConfig_EnvOverridesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("DATABASE_URL", "postgres://localhost:5432/engine")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("DUE_SWEEP_SCHEDULE", "15 7 * * *")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected overridden port, got %q", cfg.ServerPort)
	}
	if cfg.RetryMaxAttempts != 5 {
		t.Fatalf("expected overridden retry budget, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.DueSweepSchedule != "15 7 * * *" {
		t.Fatalf("expected overridden sweep schedule, got %q", cfg.DueSweepSchedule)
	}
}

func TestLoadConfig_RequiresDatabaseURL(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "test-secret")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadConfig_RequiresJWTSecret(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("DATABASE_URL", "postgres://localhost:5432/engine")
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when JWT_SECRET is missing")
	}
}
