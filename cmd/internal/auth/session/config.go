package session

import (
	"os"
	"strings"
	"time"
)

// MinSecretBytes is the shortest accepted HMAC secret.
const MinSecretBytes = 32

// Config defines runtime configuration for token issuance.
type Config struct {
	// Issuer is the "iss" claim on both token kinds.
	Issuer string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// ClockSkew is the leeway applied to exp/iat checks.
	ClockSkew time.Duration

	// AccessSecret and RefreshSecret sign the two token kinds. They must differ.
	AccessSecret  string
	RefreshSecret string
}

// DefaultConfig returns the token policy without secrets.
func DefaultConfig() Config {
	return Config{
		Issuer:     "hearth",
		AccessTTL:  7 * 24 * time.Hour,
		RefreshTTL: 30 * 24 * time.Hour,
		ClockSkew:  30 * time.Second,
	}
}

// Validate checks secrets and durations.
func (c Config) Validate() error {
	if len(c.AccessSecret) < MinSecretBytes || len(c.RefreshSecret) < MinSecretBytes {
		return ErrConfig
	}
	if c.AccessSecret == c.RefreshSecret {
		return ErrConfig
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return ErrConfig
	}
	return nil
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - HEARTH_JWT_ACCESS_SECRET
//   - HEARTH_JWT_REFRESH_SECRET
//
// Optional (durations must be valid Go duration strings):
//   - HEARTH_JWT_ISSUER
//   - HEARTH_JWT_ACCESS_TTL
//   - HEARTH_JWT_REFRESH_TTL
//   - HEARTH_JWT_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("HEARTH_JWT_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HEARTH_JWT_ACCESS_TTL", &cfg.AccessTTL},
		{"HEARTH_JWT_REFRESH_TTL", &cfg.RefreshTTL},
		{"HEARTH_JWT_CLOCK_SKEW", &cfg.ClockSkew},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	cfg.AccessSecret = os.Getenv("HEARTH_JWT_ACCESS_SECRET")
	cfg.RefreshSecret = os.Getenv("HEARTH_JWT_REFRESH_SECRET")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
