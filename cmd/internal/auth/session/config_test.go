package session

import (
	"strings"
	"testing"
	"time"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("HEARTH_JWT_ACCESS_SECRET", strings.Repeat("a", 32))
	t.Setenv("HEARTH_JWT_REFRESH_SECRET", strings.Repeat("r", 32))
}

func TestLoadConfigFromEnv_MissingSecrets(t *testing.T) {
	t.Setenv("HEARTH_JWT_ACCESS_SECRET", "")
	t.Setenv("HEARTH_JWT_REFRESH_SECRET", "")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig on missing secrets, got %v", err)
	}
}

func TestLoadConfigFromEnv_ShortSecret(t *testing.T) {
	setSecrets(t)
	t.Setenv("HEARTH_JWT_REFRESH_SECRET", "short")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for short secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_SameSecretTwice(t *testing.T) {
	same := strings.Repeat("s", 40)
	t.Setenv("HEARTH_JWT_ACCESS_SECRET", same)
	t.Setenv("HEARTH_JWT_REFRESH_SECRET", same)
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for shared secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	setSecrets(t)
	t.Setenv("HEARTH_JWT_ACCESS_TTL", "-5m")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	setSecrets(t)
	t.Setenv("HEARTH_JWT_ISSUER", "")
	t.Setenv("HEARTH_JWT_ACCESS_TTL", "")
	t.Setenv("HEARTH_JWT_REFRESH_TTL", "")
	t.Setenv("HEARTH_JWT_CLOCK_SKEW", "")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AccessTTL != 7*24*time.Hour {
		t.Fatalf("access ttl: %v", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 30*24*time.Hour {
		t.Fatalf("refresh ttl: %v", cfg.RefreshTTL)
	}
	if cfg.Issuer != "hearth" {
		t.Fatalf("issuer: %q", cfg.Issuer)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	setSecrets(t)
	t.Setenv("HEARTH_JWT_ISSUER", "hearth-test")
	t.Setenv("HEARTH_JWT_ACCESS_TTL", "10m")
	t.Setenv("HEARTH_JWT_REFRESH_TTL", "48h")
	t.Setenv("HEARTH_JWT_CLOCK_SKEW", "20s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Issuer != "hearth-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.AccessTTL != 10*time.Minute {
		t.Fatalf("access ttl mismatch: %v", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 48*time.Hour {
		t.Fatalf("refresh ttl mismatch: %v", cfg.RefreshTTL)
	}
	if cfg.ClockSkew != 20*time.Second {
		t.Fatalf("clock skew mismatch: %v", cfg.ClockSkew)
	}
}
