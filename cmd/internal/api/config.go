package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls HTTP API behavior and abuse limits.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Token bucket per client IP on unauthenticated auth routes.
	AuthIPRPS     float64
	AuthIPBurst   int
	AuthIPIdleTTL time.Duration

	DefaultHistoryLimit int
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:          envBool("HEARTH_TRUST_PROXY", false),
		MaxBodyBytes:        envInt64("HEARTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		AuthIPRPS:           envFloat("HEARTH_AUTH_IP_RPS", 5),
		AuthIPBurst:         envInt("HEARTH_AUTH_IP_BURST", 10),
		AuthIPIdleTTL:       envDuration("HEARTH_AUTH_IP_IDLE_TTL", 10*time.Minute),
		DefaultHistoryLimit: envInt("HEARTH_CHAT_HISTORY_LIMIT", 50),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.AuthIPRPS <= 0 {
		c.AuthIPRPS = 5
	}
	if c.AuthIPBurst <= 0 {
		c.AuthIPBurst = 10
	}
	if c.AuthIPIdleTTL <= 0 {
		c.AuthIPIdleTTL = 10 * time.Minute
	}
	if c.DefaultHistoryLimit <= 0 {
		c.DefaultHistoryLimit = 50
	}
	return c
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
