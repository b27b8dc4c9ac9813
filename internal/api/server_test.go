package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/queue"
)

type unhealthyStore struct {
	*queue.MemoryStore
}

func (unhealthyStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

func TestHealthzOK(t *testing.T) {
	t.Parallel()

	s := New(":0", queue.NewMemoryStore(), zap.NewNop())
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthzUnhealthy(t *testing.T) {
	t.Parallel()

	s := New(":0", unhealthyStore{queue.NewMemoryStore()}, zap.NewNop())
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestQueuezReportsCounts(t *testing.T) {
	t.Parallel()

	store := queue.NewMemoryStore()
	_, err := store.Seed(context.Background(), []string{
		"https://shop.example/a",
		"https://shop.example/b",
	})
	require.NoError(t, err)

	url, err := store.ClaimNext(context.Background(), 3)
	require.NoError(t, err)
	require.NoError(t, store.MarkDone(context.Background(), url))

	s := New(":0", store, zap.NewNop())
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queuez", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var counts map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, int64(1), counts["todo"])
	assert.Equal(t, int64(1), counts["done"])
}

func TestMetricsEndpointServes(t *testing.T) {
	t.Parallel()

	s := New(":0", queue.NewMemoryStore(), zap.NewNop())
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
