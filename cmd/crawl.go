package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/fetch"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

// newCrawlCmd creates the 'crawl' subcommand: the long-running worker
// pool plus the ops HTTP server.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run the crawl worker pool",
		Long: `Starts the configured number of workers. Each worker claims URLs from
the queue, fetches and parses them and upserts the results into the
catalog, until the queue drains or the process receives SIGINT/SIGTERM.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config
	logger := appInstance.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	opsServer := api.New(cfg.Server.Addr, appInstance.Queue, logger)
	go func() {
		if err := opsServer.Start(); err != nil {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()

	fetcher := fetch.New(fetch.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Fetch.Timeout,
	})

	pool := worker.NewPool(
		worker.PoolConfig{
			Workers:      cfg.Crawler.Concurrency,
			StartStagger: cfg.Crawler.StartStagger,
			LeaseTimeout: cfg.Queue.LeaseTimeout,
			ReapInterval: cfg.Queue.ReapInterval,
			Worker: worker.Config{
				MaxRetries:    cfg.Crawler.MaxRetries,
				IdleWait:      cfg.Crawler.IdleWait,
				ErrorWait:     cfg.Crawler.ErrorWait,
				MirrorDelay:   cfg.Mirror.Delay,
				MirrorEnabled: cfg.MirrorEnabled(),
			},
		},
		appInstance.Queue,
		appInstance.Catalog,
		fetcher,
		appInstance.Mirror,
		appInstance.Events,
		logger,
	)

	logger.Info("starting crawl",
		zap.Int("workers", cfg.Crawler.Concurrency),
		zap.Bool("mirroring", cfg.MirrorEnabled()),
	)
	pool.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown", zap.Error(err))
	}

	logger.Info("crawl stopped")
	return nil
}
