// Package fetch wraps a Colly collector into the single-attempt page
// fetcher used by workers. Retrying is the queue's job, not this
// package's: a failed fetch surfaces as an error and the URL comes back
// through a later claim.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
)

// Config controls fetcher behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// StatusError reports a non-success HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// Client fetches pages with a bounded timeout and identifying user agent.
type Client struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	return &Client{cfg: cfg, base: c}
}

// Fetch performs one GET, following redirects, and returns the body.
// Any non-success status, timeout or transport failure is an error; no
// retry happens here.
func (c *Client) Fetch(ctx context.Context, rawURL string) (string, error) {
	// Clone per request: the base collector tracks visited URLs, and a
	// URL claimed again after an error must be fetchable.
	collector := c.base.Clone()
	collector.IgnoreRobotsTxt = true
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)

	var (
		body     string
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = string(r.Body)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = &StatusError{URL: rawURL, StatusCode: r.StatusCode}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("fetch %s: %w", rawURL, ctx.Err())
	case visitErr := <-done:
		if fetchErr != nil {
			if se, ok := fetchErr.(*StatusError); ok {
				return "", se
			}
			return "", fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		if visitErr != nil {
			return "", fmt.Errorf("fetch %s: %w", rawURL, visitErr)
		}
	}
	return body, nil
}
