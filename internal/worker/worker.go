// Package worker runs the crawl pipeline: claim a URL, fetch it,
// extract product fields, upsert the catalog, mirror images, mark the
// queue row. Workers share nothing in-process; the queue store's atomic
// claim is the only cross-worker coordination.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/events"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/mirror"
	"github.com/JakeFAU/catalog-crawler/internal/queue"
)

// Pipeline stages, used for queue row error text and metrics labels.
const (
	stageFetch   = "fetch"
	stageParse   = "parse"
	stagePersist = "persist"
)

// Fetcher retrieves one page body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Config controls a single worker's loop.
type Config struct {
	MaxRetries  int
	IdleWait    time.Duration
	ErrorWait   time.Duration
	MirrorDelay time.Duration
	// MirrorEnabled gates the inter-upload delay; with the NoOp
	// provider there is no remote to be polite to.
	MirrorEnabled bool
}

// Worker consumes queue claims and executes the pipeline.
type Worker struct {
	runID   string
	queue   queue.Store
	catalog catalog.Store
	fetcher Fetcher
	mirror  mirror.Provider
	events  events.Publisher
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	q queue.Store,
	cat catalog.Store,
	fetcher Fetcher,
	mir mirror.Provider,
	pub events.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = time.Second
	}
	if cfg.ErrorWait <= 0 {
		cfg.ErrorWait = 2 * time.Second
	}
	if mir == nil {
		mir = &mirror.NoOp{}
	}
	if pub == nil {
		pub = &events.NoOp{}
	}
	runID := uuid.NewString()
	return &Worker{
		runID:   runID,
		queue:   q,
		catalog: cat,
		fetcher: fetcher,
		mirror:  mir,
		events:  pub,
		cfg:     cfg,
		logger:  logger.With(zap.String("worker", runID)),
	}
}

// Run loops until the context is canceled. Every per-URL failure is
// converted into a queue row transition plus a log line; nothing
// propagates out of this loop.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		url, err := w.queue.ClaimNext(ctx, w.cfg.MaxRetries)
		if errors.Is(err, queue.ErrEmpty) {
			metrics.IncClaim("empty")
			if !sleepCtx(ctx, w.cfg.IdleWait) {
				return
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.IncClaim("error")
			w.logger.Error("claim failed", zap.Error(err))
			if !sleepCtx(ctx, w.cfg.ErrorWait) {
				return
			}
			continue
		}
		metrics.IncClaim("claimed")

		metrics.WorkerActive(true)
		stage, procErr := w.process(ctx, url)
		metrics.WorkerActive(false)

		if procErr != nil {
			metrics.IncPage(stage + "_error")
			w.logger.Warn("crawl failed",
				zap.String("url", url),
				zap.String("stage", stage),
				zap.Error(procErr),
			)
			if err := w.queue.MarkError(ctx, url, procErr.Error()); err != nil {
				w.logger.Error("mark error failed", zap.String("url", url), zap.Error(err))
			}
			if !sleepCtx(ctx, w.cfg.ErrorWait) {
				return
			}
			continue
		}

		metrics.IncPage("done")
		if err := w.queue.MarkDone(ctx, url); err != nil {
			w.logger.Error("mark done failed", zap.String("url", url), zap.Error(err))
		}
	}
}

// process executes the whole per-claim pipeline inside one failure
// boundary and reports the stage a failure belongs to.
func (w *Worker) process(ctx context.Context, url string) (stage string, err error) {
	stage = stageFetch
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", stage, r)
		}
	}()

	html, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		return stageFetch, fmt.Errorf("fetch: %w", err)
	}

	stage = stageParse
	fields, err := extract.Extract(html, url)
	if err != nil {
		return stageParse, fmt.Errorf("parse: %w", err)
	}

	stage = stagePersist
	handle, err := w.persist(ctx, url, fields)
	if err != nil {
		return stagePersist, fmt.Errorf("persist: %w", err)
	}

	w.logger.Info("page processed",
		zap.String("url", url),
		zap.String("handle", handle),
		zap.Int("images", len(fields.Images)),
	)
	return "", nil
}

func (w *Worker) persist(ctx context.Context, url string, fields extract.Product) (string, error) {
	snapshot, err := json.Marshal(rawSnapshot{
		RunID:      w.runID,
		FetchedAt:  time.Now().UTC(),
		SourceURL:  url,
		Structured: fields.Structured,
		TitleTier:  fields.TitleTier,
		ImageCount: len(fields.Images),
	})
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	product := catalog.Product{
		Handle:      fields.Handle,
		Title:       fields.Title,
		Number:      fields.Number,
		Brand:       fields.Brand,
		Series:      fields.Series,
		Category:    fields.Category,
		ReleaseDate: fields.ReleaseDate,
		Currency:    fields.Currency,
		SourceURL:   url,
		RawSnapshot: snapshot,
	}
	if fields.Price != "" {
		price := fields.Price
		product.Price = &price
	}
	if len(fields.Images) > 0 {
		product.ImageURL = fields.Images[0]
	}

	handle, err := w.catalog.UpsertProduct(ctx, product)
	if err != nil {
		return "", err
	}
	metrics.IncUpsert()

	w.persistImages(ctx, handle, fields.Images)
	w.publish(ctx, handle, url, fields)

	return handle, nil
}

// persistImages upserts the gallery. Mirroring is best-effort: a failed
// upload still persists the image row, just without a mirror id.
func (w *Worker) persistImages(ctx context.Context, handle string, images []string) {
	var primaryMirrorID string
	for position, imageURL := range images {
		if position > 0 && w.cfg.MirrorEnabled {
			// Space out uploads for the remote host's rate limits.
			if !sleepCtx(ctx, w.cfg.MirrorDelay) {
				return
			}
		}

		mirrorID, err := w.mirror.Mirror(ctx, imageURL, mirror.Meta{Handle: handle, Position: position})
		if err != nil {
			metrics.IncMirror("failed")
			w.logger.Debug("mirror failed",
				zap.String("handle", handle),
				zap.String("image", imageURL),
				zap.Error(err),
			)
			mirrorID = ""
		} else if mirrorID != "" {
			metrics.IncMirror("ok")
		}
		if primaryMirrorID == "" && mirrorID != "" {
			primaryMirrorID = mirrorID
		}

		img := catalog.Image{
			Handle:   handle,
			URL:      imageURL,
			Position: position,
			MirrorID: mirrorID,
		}
		if err := w.catalog.UpsertImage(ctx, img); err != nil {
			w.logger.Warn("image upsert failed",
				zap.String("handle", handle),
				zap.String("image", imageURL),
				zap.Error(err),
			)
		}
	}

	if primaryMirrorID != "" {
		if err := w.catalog.SetPrimaryMirrorID(ctx, handle, primaryMirrorID); err != nil {
			w.logger.Warn("primary mirror backfill failed", zap.String("handle", handle), zap.Error(err))
		}
	}
}

func (w *Worker) publish(ctx context.Context, handle, url string, fields extract.Product) {
	update := events.Update{
		Handle:    handle,
		SourceURL: url,
		Price:     fields.Price,
		Currency:  fields.Currency,
		UpdatedAt: time.Now().UTC(),
	}
	if err := w.events.ProductUpserted(ctx, update); err != nil {
		w.logger.Warn("publish update failed", zap.String("handle", handle), zap.Error(err))
	}
}

type rawSnapshot struct {
	RunID      string    `json:"run_id"`
	FetchedAt  time.Time `json:"fetched_at"`
	SourceURL  string    `json:"source_url"`
	Structured bool      `json:"structured"`
	TitleTier  string    `json:"title_tier"`
	ImageCount int       `json:"image_count"`
}

// sleepCtx sleeps for d unless the context ends first; it reports
// whether the caller should keep running.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
