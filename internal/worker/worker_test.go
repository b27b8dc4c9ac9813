package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/events"
	"github.com/JakeFAU/catalog-crawler/internal/mirror"
	"github.com/JakeFAU/catalog-crawler/internal/queue"
)

const productPage = `<html><head>
<script type="application/ld+json">
{"@type": "Product", "name": "Alpha Figure", "sku": "EF-001",
 "offers": {"price": "12800", "priceCurrency": "jpy"},
 "image": ["https://cdn.example/alpha-front.jpg", "https://cdn.example/alpha-back.jpg"]}
</script>
</head><body></body></html>`

type fakeFetcher struct {
	pages map[string]string
	errs  map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	if err, ok := f.errs[url]; ok {
		return "", err
	}
	if page, ok := f.pages[url]; ok {
		return page, nil
	}
	return "", fmt.Errorf("unexpected url %s", url)
}

type fakeCatalog struct {
	mu            sync.Mutex
	products      []catalog.Product
	images        []catalog.Image
	primaryIDs    map[string]string
	upsertProdErr error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{primaryIDs: map[string]string{}}
}

func (c *fakeCatalog) UpsertProduct(_ context.Context, p catalog.Product) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.upsertProdErr != nil {
		return "", c.upsertProdErr
	}
	c.products = append(c.products, p)
	return p.Handle, nil
}

func (c *fakeCatalog) UpsertImage(_ context.Context, img catalog.Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = append(c.images, img)
	return nil
}

func (c *fakeCatalog) SetPrimaryMirrorID(_ context.Context, handle, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.primaryIDs[handle]; !ok {
		c.primaryIDs[handle] = id
	}
	return nil
}

func (c *fakeCatalog) snapshot() ([]catalog.Product, []catalog.Image, map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prods := append([]catalog.Product(nil), c.products...)
	imgs := append([]catalog.Image(nil), c.images...)
	ids := make(map[string]string, len(c.primaryIDs))
	for k, v := range c.primaryIDs {
		ids[k] = v
	}
	return prods, imgs, ids
}

type fakeMirror struct {
	mu    sync.Mutex
	calls int
	ids   map[string]string
	err   error
}

func (m *fakeMirror) Mirror(_ context.Context, imageURL string, _ mirror.Meta) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.ids[imageURL], nil
}

func (m *fakeMirror) Close() error { return nil }

type fakePublisher struct {
	mu      sync.Mutex
	updates []events.Update
}

func (p *fakePublisher) ProductUpserted(_ context.Context, u events.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func fastConfig() Config {
	return Config{
		MaxRetries: 3,
		IdleWait:   5 * time.Millisecond,
		ErrorWait:  5 * time.Millisecond,
	}
}

// runUntil starts the worker and blocks until the condition holds, then
// cancels the loop and waits for it to drain.
func runUntil(t *testing.T, w *Worker, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestWorkerSuccessFlow(t *testing.T) {
	t.Parallel()

	const url = "https://shop.example/items/alpha"
	q := queue.NewMemoryStore()
	_, err := q.Seed(context.Background(), []string{url})
	require.NoError(t, err)

	cat := newFakeCatalog()
	mir := &fakeMirror{ids: map[string]string{
		"https://cdn.example/alpha-front.jpg": "m-front",
		"https://cdn.example/alpha-back.jpg":  "m-back",
	}}
	pub := &fakePublisher{}
	fetcher := &fakeFetcher{pages: map[string]string{url: productPage}}

	w := New(q, cat, fetcher, mir, pub, fastConfig(), zap.NewNop())
	runUntil(t, w, func() bool {
		entry, ok := q.Get(url)
		return ok && entry.Status == queue.StatusDone
	})

	entry, _ := q.Get(url)
	assert.Equal(t, 1, entry.Tries)
	assert.Empty(t, entry.LastError)

	products, images, primaries := cat.snapshot()
	require.Len(t, products, 1)
	p := products[0]
	assert.Equal(t, "alpha-figure-ef-001", p.Handle)
	assert.Equal(t, url, p.SourceURL)
	require.NotNil(t, p.Price)
	assert.Equal(t, "12800", *p.Price)
	assert.Equal(t, "JPY", p.Currency)
	assert.Equal(t, "https://cdn.example/alpha-front.jpg", p.ImageURL)
	assert.Contains(t, string(p.RawSnapshot), `"title_tier":"structured"`)

	require.Len(t, images, 2)
	assert.Equal(t, 0, images[0].Position)
	assert.Equal(t, "m-front", images[0].MirrorID)
	assert.Equal(t, 1, images[1].Position)
	assert.Equal(t, "m-back", images[1].MirrorID)
	assert.Equal(t, "m-front", primaries["alpha-figure-ef-001"])

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.updates, 1)
	assert.Equal(t, "alpha-figure-ef-001", pub.updates[0].Handle)
}

func TestWorkerFetchErrorMarksRow(t *testing.T) {
	t.Parallel()

	const url = "https://shop.example/items/down"
	q := queue.NewMemoryStore()
	_, err := q.Seed(context.Background(), []string{url})
	require.NoError(t, err)

	fetcher := &fakeFetcher{errs: map[string]error{url: errors.New("status 503")}}
	w := New(q, newFakeCatalog(), fetcher, nil, nil, fastConfig(), zap.NewNop())

	runUntil(t, w, func() bool {
		entry, ok := q.Get(url)
		return ok && entry.Status == queue.StatusError
	})

	entry, _ := q.Get(url)
	assert.True(t, strings.HasPrefix(entry.LastError, "fetch:"), "got %q", entry.LastError)
	assert.GreaterOrEqual(t, entry.Tries, 1)
}

func TestWorkerParseErrorMarksRow(t *testing.T) {
	t.Parallel()

	const url = "https://shop.example/items/blank"
	q := queue.NewMemoryStore()
	_, err := q.Seed(context.Background(), []string{url})
	require.NoError(t, err)

	fetcher := &fakeFetcher{pages: map[string]string{url: "<html><body>no title here</body></html>"}}
	w := New(q, newFakeCatalog(), fetcher, nil, nil, fastConfig(), zap.NewNop())

	runUntil(t, w, func() bool {
		entry, ok := q.Get(url)
		return ok && entry.Status == queue.StatusError
	})

	entry, _ := q.Get(url)
	assert.Contains(t, entry.LastError, "no title resolved")
	assert.True(t, strings.HasPrefix(entry.LastError, "parse:"), "got %q", entry.LastError)
}

func TestWorkerPersistErrorMarksRow(t *testing.T) {
	t.Parallel()

	const url = "https://shop.example/items/alpha"
	q := queue.NewMemoryStore()
	_, err := q.Seed(context.Background(), []string{url})
	require.NoError(t, err)

	cat := newFakeCatalog()
	cat.upsertProdErr = errors.New("connection reset")
	fetcher := &fakeFetcher{pages: map[string]string{url: productPage}}
	w := New(q, cat, fetcher, nil, nil, fastConfig(), zap.NewNop())

	runUntil(t, w, func() bool {
		entry, ok := q.Get(url)
		return ok && entry.Status == queue.StatusError
	})

	entry, _ := q.Get(url)
	assert.True(t, strings.HasPrefix(entry.LastError, "persist:"), "got %q", entry.LastError)
}

func TestWorkerMirrorFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	const url = "https://shop.example/items/alpha"
	q := queue.NewMemoryStore()
	_, err := q.Seed(context.Background(), []string{url})
	require.NoError(t, err)

	cat := newFakeCatalog()
	mir := &fakeMirror{err: errors.New("rate limited")}
	fetcher := &fakeFetcher{pages: map[string]string{url: productPage}}
	w := New(q, cat, fetcher, mir, nil, fastConfig(), zap.NewNop())

	runUntil(t, w, func() bool {
		entry, ok := q.Get(url)
		return ok && entry.Status == queue.StatusDone
	})

	_, images, primaries := cat.snapshot()
	require.Len(t, images, 2)
	assert.Empty(t, images[0].MirrorID)
	assert.Empty(t, primaries["alpha-figure-ef-001"])
}

func TestWorkerRetriesUntilTerminal(t *testing.T) {
	t.Parallel()

	const url = "https://shop.example/items/cursed"
	q := queue.NewMemoryStore()
	_, err := q.Seed(context.Background(), []string{url})
	require.NoError(t, err)

	cfg := fastConfig()
	cfg.MaxRetries = 2
	fetcher := &fakeFetcher{errs: map[string]error{url: errors.New("timeout")}}
	w := New(q, newFakeCatalog(), fetcher, nil, nil, cfg, zap.NewNop())

	runUntil(t, w, func() bool {
		entry, ok := q.Get(url)
		return ok && entry.Status == queue.StatusError && entry.Tries == 2
	})

	// Terminal rows stay terminal.
	_, err = q.ClaimNext(context.Background(), cfg.MaxRetries)
	require.ErrorIs(t, err, queue.ErrEmpty)
}

func TestPoolDrainsOnCancel(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryStore()
	cfg := PoolConfig{
		Workers:      3,
		StartStagger: time.Millisecond,
		LeaseTimeout: time.Minute,
		ReapInterval: 10 * time.Millisecond,
		Worker:       fastConfig(),
	}
	pool := NewPool(cfg, q, newFakeCatalog(), &fakeFetcher{}, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not drain after cancellation")
	}
}

func TestPoolDistributesWorkWithoutDoubleClaim(t *testing.T) {
	t.Parallel()

	q := queue.NewMemoryStore()
	urls := make([]string, 20)
	pages := make(map[string]string, len(urls))
	for i := range urls {
		urls[i] = fmt.Sprintf("https://shop.example/items/%d", i)
		pages[urls[i]] = fmt.Sprintf(`<html><head><title>Item %d</title></head><body></body></html>`, i)
	}
	_, err := q.Seed(context.Background(), urls)
	require.NoError(t, err)

	cat := newFakeCatalog()
	cfg := PoolConfig{Workers: 4, Worker: fastConfig()}
	pool := NewPool(cfg, q, cat, &fakeFetcher{pages: pages}, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		counts, err := q.CountByStatus(context.Background())
		return err == nil && counts[queue.StatusDone] == int64(len(urls))
	}, 10*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	// Every URL processed exactly once: tries stays at 1 everywhere.
	for _, url := range urls {
		entry, ok := q.Get(url)
		require.True(t, ok)
		assert.Equal(t, 1, entry.Tries, "url %s", url)
	}
	products, _, _ := cat.snapshot()
	assert.Len(t, products, len(urls))
}
