// Package catalog persists extracted products and their image galleries.
// Rows are only ever created or merged here; nothing in the crawl
// pipeline deletes catalog data.
package catalog

import "context"

// MergePolicy selects how a new extraction is combined with a stored row.
type MergePolicy string

const (
	// MergeSticky keeps the first good write: a new non-empty value
	// overwrites, a new empty value never erases stored data.
	MergeSticky MergePolicy = "sticky"
	// MergeOverwrite replaces all non-key fields with the new extraction.
	MergeOverwrite MergePolicy = "overwrite"
)

// Product is one canonical catalog row. Handle is the derived slug and
// primary identity; SourceURL is the unique crawl origin.
type Product struct {
	Handle      string
	Title       string
	Number      string
	Brand       string
	Series      []string
	Category    []string
	ReleaseDate string
	// Price is nil when the extraction produced no offer.
	Price       *string
	Currency    string
	SourceURL   string
	ImageURL    string
	RawSnapshot []byte
}

// Image is one gallery entry, owned by the product with the same handle.
type Image struct {
	Handle   string
	URL      string
	Position int
	MirrorID string
	Width    *int
	Height   *int
}

// Store is the catalog persistence contract used by workers.
type Store interface {
	// UpsertProduct inserts or merges a product row and returns the
	// handle the row ended up under.
	UpsertProduct(ctx context.Context, p Product) (string, error)

	// UpsertImage inserts or merges a gallery row. A stored position is
	// never increased, and a stored mirror id is never replaced.
	UpsertImage(ctx context.Context, img Image) error

	// SetPrimaryMirrorID back-fills the product's primary mirror id,
	// only when it is currently empty.
	SetPrimaryMirrorID(ctx context.Context, handle, mirrorID string) error
}
