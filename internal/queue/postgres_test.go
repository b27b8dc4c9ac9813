package queue

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewPostgresStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestClaimNextReturnsURL(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE crawl_queue SET").
		WithArgs(3).
		WillReturnRows(pgxmock.NewRows([]string{"url"}).AddRow("https://shop.example/items/1"))

	url, err := store.ClaimNext(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/items/1", url)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextEmptyQueue(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE crawl_queue SET").
		WithArgs(3).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.ClaimNext(context.Background(), 3)
	require.ErrorIs(t, err, ErrEmpty)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDoneClearsError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE crawl_queue SET status = 'done'").
		WithArgs("https://shop.example/items/1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkDone(context.Background(), "https://shop.example/items/1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkErrorRecordsReason(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE crawl_queue SET status = 'error'").
		WithArgs("https://shop.example/items/1", "fetch: status 503").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkError(context.Background(), "https://shop.example/items/1", "fetch: status 503"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedSkipsDuplicates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	urls := []string{"https://a.example/1", "https://a.example/2"}

	mock.ExpectExec("INSERT INTO crawl_queue").
		WithArgs(urls).
		WillReturnResult(pgxmock.NewResult("INSERT", 1)) // one already present

	inserted, err := store.Seed(context.Background(), urls)
	require.NoError(t, err)
	assert.EqualValues(t, 1, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReapExpiredReturnsCount(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cutoff := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE crawl_queue SET status = 'todo'").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	reaped, err := store.ReapExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, reaped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT status, count").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("todo", int64(5)).
			AddRow("error", int64(2)))

	counts, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, counts[StatusTodo])
	assert.EqualValues(t, 2, counts[StatusError])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresStoreWithPool(nil)
	require.Error(t, err)
}
