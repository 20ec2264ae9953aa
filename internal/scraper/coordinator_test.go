package scraper

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCoordinator_Scrape_RejectsInvalidKeyword(t *testing.T) {
	t.Parallel()

	h := newHarness()
	_, err := h.coordinator.Scrape(context.Background(), "1.2.3.4", " a ")

	var validation ValidationError
	require.ErrorAs(t, err, &validation)
	require.Zero(t, h.admission.calls, "admission must not be consulted for invalid input")
	require.Zero(t, h.fetcher.callCount())
}

func TestCoordinator_Scrape_TruncatesLongKeyword(t *testing.T) {
	t.Parallel()

	h := newHarness()
	res, err := h.coordinator.Scrape(context.Background(), "1.2.3.4", strings.Repeat("x", 90))
	require.NoError(t, err)
	require.Len(t, res.Keyword, MaxKeywordLength)
	require.Equal(t, strings.Repeat("x", MaxKeywordLength), h.fetcher.lastRequest().Keyword)
}

func TestCoordinator_Scrape_RateLimited(t *testing.T) {
	t.Parallel()

	h := newHarness()
	reset := time.Unix(200, 0)
	h.admission.deny = true
	h.admission.resetAt = reset

	_, err := h.coordinator.Scrape(context.Background(), "1.2.3.4", "notebook")

	var limited RateLimitError
	require.ErrorAs(t, err, &limited)
	require.Equal(t, 15, limited.Limit)
	require.Equal(t, reset, limited.ResetAt)
	require.Equal(t, 1, h.metrics.rateLimited)
	require.Zero(t, h.metrics.scrapeRequests)
	require.Zero(t, h.fetcher.callCount())
}

func TestCoordinator_Scrape_CachesSuccessfulResults(t *testing.T) {
	t.Parallel()

	h := newHarness()
	ctx := context.Background()

	first, err := h.coordinator.Scrape(ctx, "1.2.3.4", "  notebook ")
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.Equal(t, "notebook", first.Keyword)
	require.Len(t, first.Products, 1)
	require.Equal(t, 30*time.Minute, h.cache.ttls[CacheKey("notebook")])

	second, err := h.coordinator.Scrape(ctx, "1.2.3.4", "notebook")
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.Products, second.Products)

	require.Equal(t, 1, h.fetcher.callCount())
	require.Equal(t, 1, h.metrics.scrapeRequests)
	require.Equal(t, 1, h.metrics.cacheHits)
	require.Equal(t, 1, h.metrics.products)
	require.Equal(t, []string{"none"}, h.metrics.fetchKinds)
}

func TestCoordinator_Scrape_EmptyResultIsCached(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.extractor.products = []Product{}

	res, err := h.coordinator.Scrape(context.Background(), "1.2.3.4", "zzzz")
	require.NoError(t, err)
	require.Empty(t, res.Products)
	_, ok := h.cache.Get(CacheKey("zzzz"))
	require.True(t, ok)
}

func TestCoordinator_Scrape_UpstreamStatusIsNotCached(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.fetcher.response = FetchResponse{StatusCode: http.StatusServiceUnavailable}

	_, err := h.coordinator.Scrape(context.Background(), "1.2.3.4", "notebook")

	var upstream UpstreamFetchError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusServiceUnavailable, upstream.StatusCode)
	require.Empty(t, h.cache.items)
	require.Equal(t, []string{"upstream"}, h.metrics.fetchKinds)
}

func TestCoordinator_Scrape_TimeoutPropagates(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.fetcher.err = context.DeadlineExceeded

	_, err := h.coordinator.Scrape(context.Background(), "1.2.3.4", "notebook")

	var timeout TimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Empty(t, h.cache.items)
}

func TestCoordinator_Scrape_ConnectivityServesSyntheticData(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.fetcher.err = &net.DNSError{Err: "no such host", Name: "www.amazon.com.br"}

	res, err := h.coordinator.Scrape(context.Background(), "1.2.3.4", "notebook")
	require.NoError(t, err)
	require.True(t, res.Synthetic)
	require.False(t, res.Cached)
	require.Len(t, res.Products, 2)
	require.Contains(t, res.Products[0].Title, "notebook")
	require.Empty(t, h.cache.items, "synthetic data must never be cached")
}

func TestCoordinator_Scrape_ThrottleErrorSkipsFetch(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.coordinator.WithThrottle(throttleFunc(func(context.Context, string) error {
		return context.DeadlineExceeded
	}))

	_, err := h.coordinator.Scrape(context.Background(), "1.2.3.4", "notebook")

	var timeout TimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Zero(t, h.fetcher.callCount())
}

func TestCoordinator_Scrape_FeedsRecorders(t *testing.T) {
	t.Parallel()

	h := newHarness()
	blobs := &fakeBlobStore{}
	history := &fakeHistory{}
	publisher := &fakePublisher{}
	h.coordinator.WithRecorders(Recorders{
		Snapshots: blobs,
		History:   history,
		Publisher: publisher,
		Hasher:    fakeHasher{},
		IDs:       fakeIDs{id: "rec-1"},
	})

	_, err := h.coordinator.Scrape(context.Background(), "1.2.3.4", "notebook")
	require.NoError(t, err)
	h.coordinator.Wait()

	require.Equal(t, []string{"pages/1970/01/01/rec-1.html"}, blobs.paths)
	require.Len(t, history.records, 1)
	record := history.records[0]
	require.Equal(t, "rec-1", record.ID)
	require.Equal(t, "notebook", record.Keyword)
	require.Equal(t, "abc123", record.ContentHash)
	require.Equal(t, "memory://pages/1970/01/01/rec-1.html", record.SnapshotURI)
	require.Equal(t, 1, record.ProductCount)

	require.Len(t, publisher.events, 1)
	require.Equal(t, "scrape-events", publisher.topics[0])
	require.Equal(t, "rec-1", publisher.events[0].RecordID)
	require.Equal(t, 1, publisher.events[0].Total)
}

func TestCoordinator_Scrape_RecorderFailuresAreIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness()
	history := &fakeHistory{}
	h.coordinator.WithRecorders(Recorders{
		Snapshots: &fakeBlobStore{err: errors.New("bucket gone")},
		History:   history,
		IDs:       fakeIDs{id: "rec-2"},
	})

	res, err := h.coordinator.Scrape(context.Background(), "1.2.3.4", "notebook")
	require.NoError(t, err)
	require.Len(t, res.Products, 1)
	h.coordinator.Wait()

	require.Len(t, history.records, 1)
	require.Empty(t, history.records[0].SnapshotURI)
}

func TestCoordinator_Close_StopsNewRecorderRuns(t *testing.T) {
	t.Parallel()

	h := newHarness()
	history := &fakeHistory{}
	h.coordinator.WithRecorders(Recorders{History: history, IDs: fakeIDs{id: "rec-3"}})

	_, err := h.coordinator.Scrape(context.Background(), "1.2.3.4", "notebook")
	require.NoError(t, err)
	h.coordinator.Close()
	require.Len(t, history.records, 1)

	res, err := h.coordinator.Scrape(context.Background(), "1.2.3.4", "tablet")
	require.NoError(t, err)
	require.Len(t, res.Products, 1)
	h.coordinator.Wait()
	require.Len(t, history.records, 1, "recorders must not start after Close")
}

type harness struct {
	coordinator *Coordinator
	admission   *fakeAdmission
	cache       *fakeCache
	fetcher     *fakeFetcher
	extractor   *fakeExtractor
	metrics     *fakeMetrics
}

func newHarness() *harness {
	h := &harness{
		admission: &fakeAdmission{limit: 15},
		cache:     newFakeCache(),
		fetcher: &fakeFetcher{
			response: FetchResponse{
				StatusCode: http.StatusOK,
				Body:       []byte("<html>results</html>"),
				Duration:   5 * time.Millisecond,
			},
		},
		extractor: &fakeExtractor{products: []Product{{ID: 1, Title: "Notebook"}}},
		metrics:   &fakeMetrics{},
	}
	h.coordinator = NewCoordinator(
		Config{
			Target:         SearchTarget{BaseURL: "https://www.amazon.com.br"},
			CacheTTL:       30 * time.Minute,
			SnapshotPrefix: "pages",
			Topic:          "scrape-events",
		},
		h.admission,
		h.cache,
		h.fetcher,
		h.extractor,
		h.metrics,
		fakeClock{now: time.Unix(0, 0).UTC()},
		zap.NewNop(),
	)
	return h
}

type fakeAdmission struct {
	calls   int
	limit   int
	deny    bool
	resetAt time.Time
}

func (a *fakeAdmission) Allow(string) Decision {
	a.calls++
	return Decision{Allowed: !a.deny, Limit: a.limit, ResetAt: a.resetAt}
}

type fakeCache struct {
	mu    sync.Mutex
	items map[string][]Product
	ttls  map[string]time.Duration
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: map[string][]Product{}, ttls: map[string]time.Duration{}}
}

func (c *fakeCache) Get(key string) ([]Product, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	products, ok := c.items[key]
	return products, ok
}

func (c *fakeCache) Set(key string, products []Product, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = products
	c.ttls[key] = ttl
}

type fakeFetcher struct {
	mu       sync.Mutex
	requests []FetchRequest
	response FetchResponse
	err      error
}

func (f *fakeFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.response, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeFetcher) lastRequest() FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeExtractor struct {
	products []Product
}

func (e *fakeExtractor) Extract([]byte) []Product {
	return e.products
}

type fakeMetrics struct {
	scrapeRequests int
	cacheHits      int
	rateLimited    int
	products       int
	fetchKinds     []string
}

func (m *fakeMetrics) IncScrapeRequest() { m.scrapeRequests++ }
func (m *fakeMetrics) IncCacheHit()      { m.cacheHits++ }
func (m *fakeMetrics) IncRateLimited()   { m.rateLimited++ }
func (m *fakeMetrics) AddProducts(n int) { m.products += n }

func (m *fakeMetrics) ObserveFetch(kind string, _ time.Duration) {
	m.fetchKinds = append(m.fetchKinds, kind)
}

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time {
	return c.now
}

type throttleFunc func(context.Context, string) error

func (f throttleFunc) Wait(ctx context.Context, url string) error {
	return f(ctx, url)
}

type fakeBlobStore struct {
	paths []string
	err   error
}

func (b *fakeBlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	if _, err := io.ReadAll(data); err != nil {
		return "", err
	}
	b.paths = append(b.paths, path)
	return "memory://" + path, nil
}

type fakeHistory struct {
	records []ScrapeRecord
}

func (h *fakeHistory) StoreScrape(_ context.Context, record ScrapeRecord) error {
	h.records = append(h.records, record)
	return nil
}

type fakePublisher struct {
	topics []string
	events []ScrapeEvent
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.topics = append(p.topics, topic)
	p.events = append(p.events, payload.(ScrapeEvent))
	return "msg-1", nil
}

type fakeHasher struct{}

func (fakeHasher) Hash([]byte) (string, error) {
	return "abc123", nil
}

type fakeIDs struct {
	id string
}

func (f fakeIDs) NewID() (string, error) {
	return f.id, nil
}
