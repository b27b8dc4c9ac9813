// Package seed loads target URLs from a JSON file into the crawl queue.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/queue"
)

// Load reads a seed file and returns its URLs. Two shapes are accepted:
// a bare JSON array of strings, or an object with a "urls" array. Blank
// entries are dropped; a file with no usable URLs is an error.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		var wrapped struct {
			URLs []string `json:"urls"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("parse seed file %s: %w", path, err)
		}
		urls = wrapped.URLs
	}

	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u != "" {
			cleaned = append(cleaned, u)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("seed file %s contains no URLs", path)
	}
	return cleaned, nil
}

// Run inserts URLs into the queue in batches and returns how many rows
// were newly inserted. Already-queued URLs are skipped by the store.
func Run(ctx context.Context, store queue.Store, urls []string, batchSize int, logger *zap.Logger) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	var inserted int64
	for start := 0; start < len(urls); start += batchSize {
		end := start + batchSize
		if end > len(urls) {
			end = len(urls)
		}
		n, err := store.Seed(ctx, urls[start:end])
		if err != nil {
			return inserted, fmt.Errorf("seed batch starting at %d: %w", start, err)
		}
		inserted += n
		logger.Info("seeded batch",
			zap.Int("offset", start),
			zap.Int("size", end-start),
			zap.Int64("inserted", n),
		)
	}

	logger.Info("seeding complete",
		zap.Int("total", len(urls)),
		zap.Int64("inserted", inserted),
		zap.Int64("skipped", int64(len(urls))-inserted),
	)
	return inserted, nil
}
