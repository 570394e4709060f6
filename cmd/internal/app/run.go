package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"hearth/cmd/internal/auth/session"
)

// Run is the CLI entrypoint used by cmd/hearth.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	sess, err := session.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("session config (HEARTH_JWT_*): %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, sess, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
