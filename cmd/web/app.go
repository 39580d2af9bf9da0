package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/minpaku-sim/web/internal/content"
	"github.com/minpaku-sim/web/internal/history"
	"github.com/minpaku-sim/web/internal/i18n"
	"github.com/minpaku-sim/web/internal/middleware"
	"github.com/minpaku-sim/web/internal/platform/config"
	"github.com/minpaku-sim/web/internal/platform/observability"
	"github.com/minpaku-sim/web/internal/refdata"
	"github.com/minpaku-sim/web/internal/session"
	"github.com/minpaku-sim/web/internal/simulation"
	"github.com/minpaku-sim/web/internal/wizard"
)

const housekeepingInterval = time.Minute

// app bundles the collaborators shared by every handler.
type app struct {
	cfg        config.Config
	logger     *zap.Logger
	controller *wizard.Controller
	catalog    *refdata.Catalog
	sessions   *session.Manager
	bundle     *i18n.Bundle
	content    *content.Library
	renderer   *renderer
	limiter    *middleware.RateLimiter
	memory     *wizard.MemoryStore
}

// buildApp wires stores, the simulation client and the presentation layer
// from configuration. The returned cleanup releases external connections.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*app, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	catalog, err := refdata.Default()
	if err != nil {
		return fail(fmt.Errorf("load reference data: %w", err))
	}
	bundle, err := i18n.Default(cfg.Locale.Default, cfg.Locale.Supported)
	if err != nil {
		return fail(fmt.Errorf("load locales: %w", err))
	}
	library, err := content.Default(cfg.Locale.Default)
	if err != nil {
		return fail(fmt.Errorf("load content: %w", err))
	}
	rd, err := newRenderer(bundle, cfg.Server.DevMode)
	if err != nil {
		return fail(fmt.Errorf("parse templates: %w", err))
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		catalog:  catalog,
		bundle:   bundle,
		content:  library,
		renderer: rd,
		limiter:  middleware.NewRateLimiter(cfg.RateLimit.SubmitPerMinute),
	}

	var store wizard.Store
	switch cfg.Store.Driver {
	case "redis":
		redis.SetLogger(observability.NewPrintfAdapter(logger.Named("redis")))
		client, err := wizard.NewRedisClient(ctx, cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		})
		store = wizard.NewRedisStore(client,
			wizard.WithRedisKeyPrefix(cfg.Store.KeyPrefix),
			wizard.WithRedisTTL(cfg.Store.TTL),
		)
	default:
		a.memory = wizard.NewMemoryStore(wizard.WithMemoryTTL(cfg.Store.TTL))
		store = a.memory
	}

	var repo history.Repository
	switch cfg.History.Driver {
	case "postgres":
		pool, err := history.NewPool(ctx, cfg.History.DatabaseURL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, pool.Close)
		if err := history.Migrate(ctx, pool); err != nil {
			return fail(err)
		}
		repo = history.NewPgRepository(pool)
	case "none":
		repo = history.Nop{}
	default:
		repo = history.NewMemoryRepository(cfg.History.PerSession)
	}

	calculator := simulation.NewClient(cfg.Simulation.BaseURL,
		simulation.WithLogger(logger.Named("simulation")),
	)
	if calculator.Demo() {
		logger.Warn("simulation backend not configured; serving demo results")
	}

	a.controller = wizard.NewController(store, calculator, catalog,
		wizard.WithHistory(repo),
		wizard.WithLogger(logger),
		wizard.WithSubmitTimeout(cfg.Simulation.Timeout),
	)

	hashKey := []byte(cfg.Session.HashKey)
	var blockKey []byte
	if cfg.Session.BlockKey != "" {
		blockKey = []byte(cfg.Session.BlockKey)
	}
	if len(hashKey) == 0 {
		logger.Warn("session: using ephemeral keys (dev). Set MINPAKU_SESSION_HASH_KEY for production.")
		hashKey = session.GenerateKey(32)
		blockKey = session.GenerateKey(32)
	}
	a.sessions, err = session.NewManager(session.Config{
		CookieName:   cfg.Session.CookieName,
		HashKey:      hashKey,
		BlockKey:     blockKey,
		CookieSecure: cfg.Session.Secure,
		IdleTimeout:  cfg.Session.IdleTimeout,
		Lifetime:     cfg.Session.Lifetime,
	})
	if err != nil {
		return fail(err)
	}

	return a, cleanup, nil
}

// housekeeping evicts idle in-memory state and rate-limit buckets until ctx ends.
func (a *app) housekeeping(ctx context.Context) error {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			evicted := 0
			if a.memory != nil {
				evicted = a.memory.CleanupExpired(ctx)
			}
			swept := a.limiter.Sweep()
			if evicted > 0 || swept > 0 {
				a.logger.Debug("housekeeping", zap.Int("states_evicted", evicted), zap.Int("clients_swept", swept))
			}
		}
	}
}
