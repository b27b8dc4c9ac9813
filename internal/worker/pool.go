package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/events"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/mirror"
	"github.com/JakeFAU/catalog-crawler/internal/queue"
)

// PoolConfig controls pool-level behavior on top of each worker's Config.
type PoolConfig struct {
	Workers int
	// StartStagger delays each worker launch so N workers do not hit
	// the queue store and the origin in one synchronized burst.
	StartStagger time.Duration
	LeaseTimeout time.Duration
	ReapInterval time.Duration
	Worker       Config
}

// Pool fans the crawl loop out over N workers plus a lease reaper.
type Pool struct {
	cfg     PoolConfig
	queue   queue.Store
	workers []*Worker
	logger  *zap.Logger
}

// NewPool constructs the pool and its workers.
func NewPool(
	cfg PoolConfig,
	q queue.Store,
	cat catalog.Store,
	fetcher Fetcher,
	mir mirror.Provider,
	pub events.Publisher,
	logger *zap.Logger,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	workers := make([]*Worker, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		workers = append(workers, New(q, cat, fetcher, mir, pub, cfg.Worker, logger))
	}
	return &Pool{cfg: cfg, queue: q, workers: workers, logger: logger}
}

// Run starts every worker and the reaper, then blocks until the context
// is canceled and all loops have drained. In-flight claims finish; no
// new ones start. There is no other exit condition.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for i, w := range p.workers {
		if i > 0 && !sleepCtx(ctx, p.cfg.StartStagger) {
			break
		}
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}

	if p.cfg.LeaseTimeout > 0 && p.cfg.ReapInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.reapLoop(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	p.logger.Info("worker pool drained")
}

// reapLoop periodically returns expired working leases to todo so a
// crashed worker cannot strand a row forever.
func (p *Pool) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-p.cfg.LeaseTimeout)
			reaped, err := p.queue.ReapExpired(ctx, cutoff)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("lease reap failed", zap.Error(err))
				}
				continue
			}
			if reaped > 0 {
				metrics.AddReaped(reaped)
				p.logger.Warn("reclaimed expired leases", zap.Int64("count", reaped))
			}
		}
	}
}
