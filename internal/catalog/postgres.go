package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS products (
	handle          TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	number          TEXT,
	brand           TEXT,
	series          TEXT[] NOT NULL DEFAULT '{}',
	category        TEXT[] NOT NULL DEFAULT '{}',
	release_date    TEXT,
	price           NUMERIC,
	currency        TEXT,
	source_url      TEXT NOT NULL UNIQUE,
	image_url       TEXT,
	image_mirror_id TEXT,
	raw_snapshot    JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS product_images (
	handle     TEXT NOT NULL REFERENCES products(handle) ON DELETE CASCADE,
	url        TEXT NOT NULL,
	position   INT NOT NULL DEFAULT 0,
	mirror_id  TEXT,
	width      INT,
	height     INT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (handle, url)
);
`

// pgxPool is the subset of pgxpool.Pool the store uses; pgxmock's pool
// satisfies it.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool   pgxPool
	policy MergePolicy
}

// NewPostgresStore builds a catalog store on an already-connected pool
// (the app container owns the pool lifecycle) and ensures the schema.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, policy MergePolicy) (*PostgresStore, error) {
	store, err := NewPostgresStoreWithPool(pool, policy)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("ensure catalog schema: %w", err)
	}
	return store, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool
// without touching the schema (primarily for testing).
func NewPostgresStoreWithPool(pool pgxPool, policy MergePolicy) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	switch policy {
	case MergeSticky, MergeOverwrite:
	case "":
		policy = MergeSticky
	default:
		return nil, fmt.Errorf("unknown merge policy %q", policy)
	}
	return &PostgresStore{pool: pool, policy: policy}, nil
}

// upsertStickySQL merges on the source_url key. NULLIF/COALESCE pairs
// express the sticky rule in SQL: an empty new value can never blank a
// stored one. The handle never changes once a row exists; it is the
// stable identity the image gallery hangs off.
const upsertStickySQL = `
INSERT INTO products (
	handle, title, number, brand, series, category, release_date,
	price, currency, source_url, image_url, raw_snapshot
) VALUES (
	$1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, NULLIF($7, ''),
	$8, NULLIF($9, ''), $10, NULLIF($11, ''), $12
)
ON CONFLICT (source_url) DO UPDATE SET
	title = COALESCE(NULLIF(EXCLUDED.title, ''), products.title),
	number = COALESCE(EXCLUDED.number, products.number),
	brand = COALESCE(EXCLUDED.brand, products.brand),
	series = CASE WHEN cardinality(EXCLUDED.series) > 0 THEN EXCLUDED.series ELSE products.series END,
	category = CASE WHEN cardinality(EXCLUDED.category) > 0 THEN EXCLUDED.category ELSE products.category END,
	release_date = COALESCE(EXCLUDED.release_date, products.release_date),
	price = COALESCE(EXCLUDED.price, products.price),
	currency = COALESCE(EXCLUDED.currency, products.currency),
	image_url = COALESCE(EXCLUDED.image_url, products.image_url),
	raw_snapshot = COALESCE(EXCLUDED.raw_snapshot, products.raw_snapshot),
	updated_at = now()
RETURNING handle`

const upsertOverwriteSQL = `
INSERT INTO products (
	handle, title, number, brand, series, category, release_date,
	price, currency, source_url, image_url, raw_snapshot
) VALUES (
	$1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, NULLIF($7, ''),
	$8, NULLIF($9, ''), $10, NULLIF($11, ''), $12
)
ON CONFLICT (source_url) DO UPDATE SET
	title = EXCLUDED.title,
	number = EXCLUDED.number,
	brand = EXCLUDED.brand,
	series = EXCLUDED.series,
	category = EXCLUDED.category,
	release_date = EXCLUDED.release_date,
	price = EXCLUDED.price,
	currency = EXCLUDED.currency,
	image_url = EXCLUDED.image_url,
	raw_snapshot = EXCLUDED.raw_snapshot,
	updated_at = now()
RETURNING handle`

// mergeByHandleSQL handles the same product surfacing at a new URL: the
// insert trips the handle primary key, so we merge into the existing row
// and move source_url to the new location.
const mergeByHandleSQL = `
UPDATE products SET
	title = COALESCE(NULLIF($2, ''), title),
	number = COALESCE(NULLIF($3, ''), number),
	brand = COALESCE(NULLIF($4, ''), brand),
	series = CASE WHEN cardinality($5::text[]) > 0 THEN $5::text[] ELSE series END,
	category = CASE WHEN cardinality($6::text[]) > 0 THEN $6::text[] ELSE category END,
	release_date = COALESCE(NULLIF($7, ''), release_date),
	price = COALESCE($8, price),
	currency = COALESCE(NULLIF($9, ''), currency),
	source_url = $10,
	image_url = COALESCE(NULLIF($11, ''), image_url),
	raw_snapshot = COALESCE($12, raw_snapshot),
	updated_at = now()
WHERE handle = $1
RETURNING handle`

// UpsertProduct implements Store.
func (s *PostgresStore) UpsertProduct(ctx context.Context, p Product) (string, error) {
	if p.Handle == "" {
		return "", fmt.Errorf("product handle is required")
	}
	if p.SourceURL == "" {
		return "", fmt.Errorf("product source_url is required")
	}

	query := upsertStickySQL
	if s.policy == MergeOverwrite {
		query = upsertOverwriteSQL
	}
	args := []any{
		p.Handle, p.Title, p.Number, p.Brand,
		sliceOrEmpty(p.Series), sliceOrEmpty(p.Category), p.ReleaseDate,
		p.Price, p.Currency, p.SourceURL, p.ImageURL, p.RawSnapshot,
	}

	var handle string
	err := s.pool.QueryRow(ctx, query, args...).Scan(&handle)
	if isHandleConflict(err) {
		if err := s.pool.QueryRow(ctx, mergeByHandleSQL, args...).Scan(&handle); err != nil {
			return "", fmt.Errorf("merge product by handle %s: %w", p.Handle, err)
		}
		return handle, nil
	}
	if err != nil {
		return "", fmt.Errorf("upsert product %s: %w", p.SourceURL, err)
	}
	return handle, nil
}

// upsertImageSQL keeps the best-known gallery rank: position only ever
// decreases, and mirror_id is filled once and never downgraded.
const upsertImageSQL = `
INSERT INTO product_images (handle, url, position, mirror_id, width, height)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
ON CONFLICT (handle, url) DO UPDATE SET
	position = LEAST(product_images.position, EXCLUDED.position),
	mirror_id = COALESCE(product_images.mirror_id, EXCLUDED.mirror_id),
	width = COALESCE(product_images.width, EXCLUDED.width),
	height = COALESCE(product_images.height, EXCLUDED.height),
	updated_at = now()`

// UpsertImage implements Store.
func (s *PostgresStore) UpsertImage(ctx context.Context, img Image) error {
	if img.Handle == "" || img.URL == "" {
		return fmt.Errorf("image handle and url are required")
	}
	_, err := s.pool.Exec(ctx, upsertImageSQL,
		img.Handle, img.URL, img.Position, img.MirrorID, img.Width, img.Height)
	if err != nil {
		return fmt.Errorf("upsert image %s/%s: %w", img.Handle, img.URL, err)
	}
	return nil
}

// SetPrimaryMirrorID implements Store.
func (s *PostgresStore) SetPrimaryMirrorID(ctx context.Context, handle, mirrorID string) error {
	if mirrorID == "" {
		return nil
	}
	const q = `
UPDATE products SET image_mirror_id = $2, updated_at = now()
WHERE handle = $1 AND (image_mirror_id IS NULL OR image_mirror_id = '')`
	if _, err := s.pool.Exec(ctx, q, handle, mirrorID); err != nil {
		return fmt.Errorf("set primary mirror id for %s: %w", handle, err)
	}
	return nil
}

func isHandleConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == "products_pkey"
}

func sliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
