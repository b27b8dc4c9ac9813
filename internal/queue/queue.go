// Package queue implements the durable crawl queue. One row per target
// URL; workers claim rows atomically, so the queue is the only point of
// cross-worker coordination in the system.
package queue

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a queue row.
type Status string

// Queue row states. A row at StatusError with tries >= max retries is
// terminal and never claimed again.
const (
	StatusTodo    Status = "todo"
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Entry is one durable queue row.
type Entry struct {
	URL       string
	Status    Status
	Tries     int
	LastError string
	// UpdatedAt is nil until the row is first claimed. It doubles as the
	// claim ordering key and the lease timestamp for the reaper.
	UpdatedAt *time.Time
}

// ErrEmpty is returned by ClaimNext when no eligible row exists.
var ErrEmpty = errors.New("queue: no eligible entry")

// Store is the durable queue contract shared by the Postgres
// implementation and the in-memory one used in tests.
type Store interface {
	// ClaimNext atomically selects one eligible row (todo, or error with
	// tries < maxRetries), marks it working, increments tries and returns
	// its URL. Never-attempted rows are served first, then oldest first.
	// Returns ErrEmpty when nothing is eligible.
	ClaimNext(ctx context.Context, maxRetries int) (string, error)

	// MarkDone transitions a claimed row to done and clears its error.
	MarkDone(ctx context.Context, url string) error

	// MarkError transitions a claimed row to error, recording the reason.
	MarkError(ctx context.Context, url string, reason string) error

	// Seed inserts URLs as todo rows, skipping any already present.
	// Returns the number of rows actually inserted.
	Seed(ctx context.Context, urls []string) (int64, error)

	// ReapExpired returns working rows older than the cutoff to todo,
	// reclaiming leases orphaned by crashed workers. Tries are left
	// untouched; the claim that orphaned the row already counted.
	ReapExpired(ctx context.Context, olderThan time.Time) (int64, error)

	// CountByStatus reports row counts per status for operational visibility.
	CountByStatus(ctx context.Context) (map[Status]int64, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}
