package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaDDL creates the queue table if absent. updated_at stays NULL
// until the first claim so never-attempted rows sort first.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS crawl_queue (
	url        TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'todo',
	tries      INT  NOT NULL DEFAULT 0,
	last_error TEXT,
	updated_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS crawl_queue_claim_idx
	ON crawl_queue (updated_at ASC NULLS FIRST)
	WHERE status IN ('todo', 'error');
`

// pgxPool is the subset of pgxpool.Pool the store uses. pgxmock's pool
// satisfies it, which keeps the store testable without a live database.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool pgxPool
}

// NewPostgresStore builds a store on a shared pool and ensures the
// queue schema exists. It fails fast so an unreachable queue store
// aborts startup instead of looping silently.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	store := &PostgresStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewPostgresStoreWithPool(pool pgxPool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure queue schema: %w", err)
	}
	return nil
}

// claimSQL selects one eligible row and transitions it in a single
// statement. FOR UPDATE SKIP LOCKED makes concurrent claimers skip rows
// another transaction already holds instead of waiting on them, which is
// what guarantees at-most-one-claim-per-url without serializing claims.
const claimSQL = `
UPDATE crawl_queue SET
	status = 'working',
	tries = tries + 1,
	updated_at = now()
WHERE url = (
	SELECT url FROM crawl_queue
	WHERE status = 'todo' OR (status = 'error' AND tries < $1)
	ORDER BY updated_at ASC NULLS FIRST
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING url`

// ClaimNext implements Store.
func (s *PostgresStore) ClaimNext(ctx context.Context, maxRetries int) (string, error) {
	var url string
	err := s.pool.QueryRow(ctx, claimSQL, maxRetries).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("claim next: %w", err)
	}
	return url, nil
}

// MarkDone implements Store.
func (s *PostgresStore) MarkDone(ctx context.Context, url string) error {
	const q = `UPDATE crawl_queue SET status = 'done', last_error = NULL, updated_at = now() WHERE url = $1`
	if _, err := s.pool.Exec(ctx, q, url); err != nil {
		return fmt.Errorf("mark done %s: %w", url, err)
	}
	return nil
}

// MarkError implements Store.
func (s *PostgresStore) MarkError(ctx context.Context, url string, reason string) error {
	const q = `UPDATE crawl_queue SET status = 'error', last_error = $2, updated_at = now() WHERE url = $1`
	if _, err := s.pool.Exec(ctx, q, url, reason); err != nil {
		return fmt.Errorf("mark error %s: %w", url, err)
	}
	return nil
}

// Seed implements Store. Duplicate URLs, either within the batch or
// already present in the table, are skipped.
func (s *PostgresStore) Seed(ctx context.Context, urls []string) (int64, error) {
	const q = `
INSERT INTO crawl_queue (url, status)
SELECT DISTINCT u, 'todo' FROM unnest($1::text[]) AS u
ON CONFLICT (url) DO NOTHING`
	tag, err := s.pool.Exec(ctx, q, urls)
	if err != nil {
		return 0, fmt.Errorf("seed queue: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReapExpired implements Store.
func (s *PostgresStore) ReapExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	const q = `UPDATE crawl_queue SET status = 'todo' WHERE status = 'working' AND updated_at < $1`
	tag, err := s.pool.Exec(ctx, q, olderThan)
	if err != nil {
		return 0, fmt.Errorf("reap expired leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus implements Store.
func (s *PostgresStore) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	const q = `SELECT status, count(*) FROM crawl_queue GROUP BY status`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping queue store: %w", err)
	}
	return nil
}
