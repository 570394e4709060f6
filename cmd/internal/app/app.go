// Package app wires the Hearth server runtime: config, logging, persistence,
// rate limiting, outbound mail and the HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"hearth/cmd/internal/api"
	"hearth/cmd/internal/auth/session"
	"hearth/cmd/internal/chat"
	"hearth/cmd/internal/family"
	"hearth/cmd/internal/invite"
	"hearth/cmd/internal/metrics"
	"hearth/cmd/internal/notify"
	"hearth/cmd/internal/ratelimit"
	"hearth/cmd/internal/store"
	"hearth/cmd/security/envelope"
	"hearth/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// App is the Hearth server runtime: it owns the store, the Redis client and HTTP wiring.
type App struct {
	cfg Config
	log Logger

	store     store.Store
	dbPool    *pgxpool.Pool
	dbEnabled bool
	redis     *redis.Client

	registry *prometheus.Registry
	api      *api.Handler
}

type options struct {
	passwords password.Config
	apiCfg    api.Config
	notifier  notify.Notifier
	hasPw     bool
	hasAPI    bool
}

// Option overrides a dependency normally loaded from the environment.
type Option func(*options)

// WithPasswordConfig sets the password policy and hashing cost.
func WithPasswordConfig(c password.Config) Option {
	return func(o *options) { o.passwords, o.hasPw = c, true }
}

// WithAPIConfig sets the HTTP API limits.
func WithAPIConfig(c api.Config) Option {
	return func(o *options) { o.apiCfg, o.hasAPI = c, true }
}

// WithNotifier replaces the SMTP/log notifier chosen from config.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, sess session.Config, log Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg, sess); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if !o.hasPw {
		pw, err := password.FromEnv()
		if err != nil {
			return nil, fmt.Errorf("password config: %w", err)
		}
		o.passwords = pw
	}
	if !o.hasAPI {
		o.apiCfg = api.LoadConfigFromEnv()
	}

	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	limiter, err := a.resendLimiter(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	cipher, err := envelope.NewCipher(cfg.EmailEncryptionKey)
	if err != nil {
		a.close()
		return nil, err
	}
	minter, err := invite.NewMinter(cipher)
	if err != nil {
		a.close()
		return nil, err
	}
	tokens, err := session.NewManager(sess)
	if err != nil {
		a.close()
		return nil, err
	}

	notifier := o.notifier
	if notifier == nil {
		notifier, err = newNotifier(cfg, log)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	families, err := family.NewService(a.store, o.passwords, tokens, minter,
		family.WithLimiter(limiter),
		family.WithDispatcher(notify.NewDispatcher(notifier, log, notify.WithMetrics(m))),
		family.WithMetrics(m),
		family.WithLogger(log),
		family.WithMaxMembers(cfg.FamilyMaxMembers),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	chatSvc, err := chat.NewService(a.store, chat.WithMetrics(m), chat.WithLogger(log))
	if err != nil {
		a.close()
		return nil, err
	}

	a.api, err = api.NewHandler(log, o.apiCfg, families, chatSvc, tokens, api.WithMetrics(m))
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// Handler returns the full HTTP handler chain.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.store, a.dbEnabled, a.registry, a.api)
	return WithRequestLogging(WithSecurityHeaders(WithCORS(mux, a.cfg, a.log)), a.log)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "redis_enabled", a.redis != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.close()
		return err
	}

	a.close()
	a.log.Info("server.stopped")
	return nil
}

// openStore decides between Postgres-backed persistence and the in-memory dev store.
func (a *App) openStore(ctx context.Context) error {
	if a.cfg.DatabaseURL == "" {
		a.log.Warn("db.disabled.inmemory_store")
		a.store = store.NewMemoryStore()
		return nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	st, err := store.NewPostgresStore(pool, store.WithSchema(a.cfg.DBSchema))
	if err != nil {
		pool.Close()
		return err
	}

	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema, "migrated", a.cfg.DBMigrate)
	a.store, a.dbPool, a.dbEnabled = st, pool, true
	return nil
}

// resendLimiter shares counters through Redis when configured, otherwise keeps them in process.
func (a *App) resendLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	if a.cfg.RedisURL == "" {
		return ratelimit.NewFixedWindow(a.cfg.ResendLimit, a.cfg.ResendWindow), nil
	}

	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.redis = client

	a.log.Info("redis.enabled.resend_limiter")
	return ratelimit.NewRedisLimiter(client, "hearth:resend", a.cfg.ResendLimit, a.cfg.ResendWindow)
}

func newNotifier(cfg Config, log Logger) (notify.Notifier, error) {
	links := notify.Links{BaseURL: cfg.PublicBaseURL}
	if cfg.SMTPHost == "" {
		log.Warn("notify.smtp.disabled", "reveal_links", cfg.LogNotifyLinks)
		return notify.NewLogNotifier(log, links, cfg.LogNotifyLinks), nil
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		Links:    links,
	})
}

// close releases the store, the pool and the Redis client.
func (a *App) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
