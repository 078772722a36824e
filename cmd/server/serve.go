package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lowc1012/crm-gate/internal/apikey"
	"github.com/lowc1012/crm-gate/internal/auth"
	"github.com/lowc1012/crm-gate/internal/config"
	"github.com/lowc1012/crm-gate/internal/database"
	"github.com/lowc1012/crm-gate/internal/log"
	"github.com/lowc1012/crm-gate/internal/metrics"
	"github.com/lowc1012/crm-gate/internal/server"
	"github.com/lowc1012/crm-gate/internal/session"
	"github.com/lowc1012/crm-gate/internal/totp"
	"github.com/lowc1012/crm-gate/internal/utils"
	"github.com/lowc1012/crm-gate/pkg/ratelimiter"
	limiter "github.com/lowc1012/crm-gate/rate_limiter"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port string `help:"Port to listen on (overrides SERVER_PORT)."`
}

func (c *ServeCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.Port != "" {
		cfg.Server.Port = c.Port
	}

	policies, err := config.LoadPolicies(cfg.PolicyFile)
	if err != nil {
		return err
	}

	db, dialect, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	keys, err := apikey.NewSQLStore(ctx, db, dialect)
	if err != nil {
		return err
	}
	secrets, err := totp.NewSQLSecretStore(ctx, db, dialect)
	if err != nil {
		return err
	}

	sessions, err := newSessionResolver(ctx, cfg.Auth)
	if err != nil {
		return err
	}

	m := metrics.New()

	store := limiter.NewMemoryStore(nil)
	store.Start(cfg.RateLimit.SweepInterval)
	defer store.Close()

	backends, closeBackends, err := newBackends(cfg.RateLimit)
	if err != nil {
		return err
	}
	defer closeBackends()

	rl := limiter.New(store, limiter.WithBackends(backends...), limiter.WithObserver(m))
	log.Logger().Info("Rate limiter configured", zap.Strings("backends", rl.Backends()))

	resolver := auth.NewResolver(keys, sessions,
		auth.WithExtractor(utils.NewAPIKeyExtractor(cfg.Auth.APIKeyHeader, cfg.Auth.APIKeyMinLength)),
		auth.WithMinAPIKeyLength(cfg.Auth.APIKeyMinLength),
		auth.WithKeyToucher(keys),
		auth.WithResolveObserver(m))

	srv, err := server.New(":"+cfg.Server.Port, server.Deps{
		Gate:       &ratelimiter.Config{Resolver: resolver, Limiter: rl},
		Policies:   policies,
		Secrets:    secrets,
		Verifier:   totp.NewVerifier(nil),
		TOTPIssuer: cfg.TOTP.Issuer,
		Notifier:   server.LogNotifier,
		Metrics:    m,
	})
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, string, error) {
	dialect, err := database.Dialect(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	db, err := database.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, "", err
	}
	return db, dialect, nil
}

// newSessionResolver prefers a JWKS endpoint over a shared secret. With neither configured
// only API keys can authenticate.
func newSessionResolver(ctx context.Context, cfg config.AuthConfig) (auth.SessionResolver, error) {
	opts := []session.Option{
		session.WithCookieName(cfg.SessionCookie),
		session.WithIssuer(cfg.SessionIssuer),
		session.WithAudience(cfg.SessionAudience),
	}

	switch {
	case cfg.SessionJWKSURL != "":
		return session.NewJWKSResolver(ctx, cfg.SessionJWKSURL, opts...)
	case cfg.SessionJWTSecret != "":
		return session.NewHMACResolver(cfg.SessionJWTSecret, opts...)
	default:
		log.Logger().Warn("No session verification configured, browser sessions will be rejected")
		return nil, nil
	}
}

// newBackends returns the remote counter stores in priority order: REST first, then Redis.
func newBackends(cfg config.RateLimitConfig) ([]limiter.CounterBackend, func(), error) {
	var (
		backends []limiter.CounterBackend
		closers  []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.RESTEnabled() {
		rest, err := limiter.NewRESTBackend(cfg.RESTURL, cfg.RESTToken,
			limiter.WithRESTTimeout(cfg.RemoteTimeout),
			limiter.WithRESTKeyPrefix(cfg.KeyPrefix))
		if err != nil {
			return nil, nil, err
		}
		backends = append(backends, rest)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				log.Logger().Warn("Failed to close redis client", zap.Error(err))
			}
		})
		backends = append(backends, limiter.NewRedisBackend(client, cfg.KeyPrefix, cfg.RemoteTimeout, nil))
	}

	return backends, closeAll, nil
}
