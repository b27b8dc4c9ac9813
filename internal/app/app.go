// Package app wires configuration into the concrete services the
// commands run. Construction fails fast: any unreachable dependency
// aborts startup rather than surfacing mid-crawl.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/events"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/mirror"
	"github.com/JakeFAU/catalog-crawler/internal/queue"
)

// App holds the shared dependencies of the crawl and seed commands.
type App struct {
	Config  config.Config
	Logger  *zap.Logger
	Pool    *pgxpool.Pool
	Queue   queue.Store
	Catalog catalog.Store
	Mirror  mirror.Provider
	Events  events.Publisher
}

// New builds the full dependency graph from a loaded config.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	pool, err := newPool(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}

	queueStore, err := queue.NewPostgresStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	catalogStore, err := catalog.NewPostgresStore(ctx, pool, catalog.MergePolicy(cfg.Catalog.MergePolicy))
	if err != nil {
		pool.Close()
		return nil, err
	}

	mirrorProvider, err := mirror.New(ctx, mirror.Options{
		AccountID: cfg.Mirror.AccountID,
		Token:     cfg.Mirror.Token,
		Endpoint:  cfg.Mirror.Endpoint,
		GCSBucket: cfg.Mirror.GCSBucket,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	var publisher events.Publisher = &events.NoOp{}
	if cfg.Events.ProjectID != "" && cfg.Events.Topic != "" {
		publisher, err = events.NewPubSub(ctx, cfg.Events.ProjectID, cfg.Events.Topic)
		if err != nil {
			_ = mirrorProvider.Close()
			pool.Close()
			return nil, err
		}
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Queue:   queueStore,
		Catalog: catalogStore,
		Mirror:  mirrorProvider,
		Events:  publisher,
	}, nil
}

func newPool(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Close releases dependencies in reverse construction order.
func (a *App) Close() {
	if a == nil {
		return
	}
	if err := a.Events.Close(); err != nil {
		a.Logger.Warn("close event publisher", zap.Error(err))
	}
	if err := a.Mirror.Close(); err != nil {
		a.Logger.Warn("close mirror provider", zap.Error(err))
	}
	a.Pool.Close()
	_ = a.Logger.Sync()
}
