// Package mirror copies discovered product images to an external host
// and hands back opaque ids. Mirroring is strictly best-effort: callers
// treat every failure as "no id" and persistence never waits on it.
package mirror

import (
	"context"
	"fmt"
)

// Meta carries catalog context for an upload.
type Meta struct {
	Handle   string
	Position int
}

// Provider is the image mirror contract.
type Provider interface {
	// Mirror uploads one image by reference and returns its opaque id.
	Mirror(ctx context.Context, imageURL string, meta Meta) (string, error)

	// Close releases any underlying clients.
	Close() error
}

// Options selects and configures a provider. Hosted wins when both
// credentials are present; otherwise a bucket selects GCS; otherwise
// mirroring is disabled.
type Options struct {
	AccountID string
	Token     string
	Endpoint  string
	GCSBucket string
}

// New builds the provider matching the supplied options.
func New(ctx context.Context, opts Options) (Provider, error) {
	switch {
	case opts.AccountID != "" && opts.Token != "":
		return NewHosted(HostedConfig{
			AccountID: opts.AccountID,
			Token:     opts.Token,
			Endpoint:  opts.Endpoint,
		})
	case opts.GCSBucket != "":
		p, err := NewGCS(ctx, opts.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("init gcs mirror: %w", err)
		}
		return p, nil
	default:
		return &NoOp{}, nil
	}
}

// NoOp is the disabled mirror; it never uploads and never errors.
type NoOp struct{}

// Mirror for NoOp reports no id.
func (*NoOp) Mirror(context.Context, string, Meta) (string, error) { return "", nil }

// Close for NoOp does nothing.
func (*NoOp) Close() error { return nil }
