package app

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"hearth/cmd/internal/auth/session"
	"hearth/cmd/security/envelope"
)

// ValidateSecurityConfig enforces Hearth's security policy at startup.
// Fail-fast: the server never starts with a missing or weak secret.
func ValidateSecurityConfig(cfg Config, sess session.Config) error {
	if strings.TrimSpace(cfg.EmailEncryptionKey) == "" {
		return errors.New("security policy: HEARTH_EMAIL_ENCRYPTION_KEY is missing")
	}
	if err := envelope.ValidateKey(cfg.EmailEncryptionKey); err != nil {
		return errors.New("security policy: HEARTH_EMAIL_ENCRYPTION_KEY must be 64 hex characters")
	}

	switch {
	case len(sess.AccessSecret) < session.MinSecretBytes:
		return fmt.Errorf("security policy: HEARTH_JWT_ACCESS_SECRET is too short (min %d bytes)", session.MinSecretBytes)
	case len(sess.RefreshSecret) < session.MinSecretBytes:
		return fmt.Errorf("security policy: HEARTH_JWT_REFRESH_SECRET is too short (min %d bytes)", session.MinSecretBytes)
	case sess.AccessSecret == sess.RefreshSecret:
		return errors.New("security policy: access and refresh secrets must differ")
	}
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("security policy: token config: %w", err)
	}

	if cfg.SMTPHost != "" && strings.TrimSpace(cfg.SMTPFrom) == "" {
		return errors.New("security policy: HEARTH_SMTP_FROM is required when HEARTH_SMTP_HOST is set")
	}
	u, err := url.Parse(cfg.PublicBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("security policy: HEARTH_PUBLIC_BASE_URL must be an absolute http(s) URL")
	}
	return nil
}
