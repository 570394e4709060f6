package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
// Token policy, password policy and API limits are loaded by their own packages.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32
	DBMigrate   bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	RedisURL     string
	ResendLimit  int
	ResendWindow time.Duration

	EmailEncryptionKey string
	FamilyMaxMembers   int

	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPFrom      string
	PublicBaseURL string
	// Log verification and invite links when no SMTP relay is configured (local dev only).
	LogNotifyLinks bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("HEARTH_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("HEARTH_LOG_LEVEL", "info"),
		LogFormat: EnvString("HEARTH_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("HEARTH_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("HEARTH_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("HEARTH_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("HEARTH_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("HEARTH_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("HEARTH_DATABASE_URL", ""),
		DBSchema:    EnvString("HEARTH_DB_SCHEMA", "hearth"),
		DBMaxConns:  EnvInt32("HEARTH_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("HEARTH_DB_MIN_CONNS", 0),
		DBMigrate:   EnvBool("HEARTH_DB_MIGRATE", true),

		ReadinessRequireDB: EnvBool("HEARTH_READINESS_REQUIRE_DB", false),

		RedisURL:     EnvString("HEARTH_REDIS_URL", ""),
		ResendLimit:  EnvInt("HEARTH_RESEND_LIMIT", 5),
		ResendWindow: EnvDuration("HEARTH_RESEND_WINDOW", 15*time.Minute),

		EmailEncryptionKey: EnvString("HEARTH_EMAIL_ENCRYPTION_KEY", ""),
		FamilyMaxMembers:   EnvInt("HEARTH_FAMILY_MAX_MEMBERS", 10),

		SMTPHost:       EnvString("HEARTH_SMTP_HOST", ""),
		SMTPPort:       EnvInt("HEARTH_SMTP_PORT", 587),
		SMTPUsername:   EnvString("HEARTH_SMTP_USERNAME", ""),
		SMTPPassword:   EnvString("HEARTH_SMTP_PASSWORD", ""),
		SMTPFrom:       EnvString("HEARTH_SMTP_FROM", ""),
		PublicBaseURL:  EnvString("HEARTH_PUBLIC_BASE_URL", "http://localhost:8080"),
		LogNotifyLinks: EnvBool("HEARTH_LOG_NOTIFY_LINKS", false),

		CORSAllowedOrigins:   EnvList("HEARTH_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("HEARTH_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("HEARTH_CORS_MAX_AGE_SECONDS", 300),
	}
}
