package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CacheKeyPrefix namespaces search results in the cache.
const CacheKeyPrefix = "search:"

// CacheKey derives the cache key for an already sanitized keyword.
func CacheKey(keyword string) string {
	return CacheKeyPrefix + keyword
}

// Config controls Coordinator behavior.
type Config struct {
	Target         SearchTarget
	CacheTTL       time.Duration
	SnapshotPrefix string
	Topic          string
	RecordTimeout  time.Duration
}

// Recorders are optional sinks fed after every successful upstream scrape.
// Any of them may be nil.
type Recorders struct {
	Snapshots BlobStore
	History   HistoryStore
	Publisher Publisher
	Hasher    Hasher
	IDs       IDGenerator
}

func (r Recorders) empty() bool {
	return r.Snapshots == nil && r.History == nil && r.Publisher == nil
}

// Coordinator drives one keyword request through validation, admission,
// cache lookup, fetch and extraction.
type Coordinator struct {
	cfg       Config
	admission Admission
	cache     Cache
	fetcher   Fetcher
	extractor Extractor
	metrics   Metrics
	clock     Clock
	throttle  Throttle
	recorders Recorders
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(
	cfg Config,
	admission Admission,
	cache Cache,
	fetcher Fetcher,
	extractor Extractor,
	metrics Metrics,
	clock Clock,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 10 * time.Second
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "snapshots"
	}
	return &Coordinator{
		cfg:       cfg,
		admission: admission,
		cache:     cache,
		fetcher:   fetcher,
		extractor: extractor,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
	}
}

// WithThrottle paces upstream fetches through t.
func (c *Coordinator) WithThrottle(t Throttle) *Coordinator {
	c.throttle = t
	return c
}

// WithRecorders attaches post-scrape sinks.
func (c *Coordinator) WithRecorders(r Recorders) *Coordinator {
	c.recorders = r
	return c
}

// Scrape serves rawKeyword for the client identified by clientKey.
func (c *Coordinator) Scrape(ctx context.Context, clientKey, rawKeyword string) (ScrapeResult, error) {
	keyword, err := SanitizeKeyword(rawKeyword)
	if err != nil {
		return ScrapeResult{}, err
	}

	if decision := c.admission.Allow(clientKey); !decision.Allowed {
		c.metrics.IncRateLimited()
		c.logger.Info("request rate limited",
			zap.String("client", clientKey),
			zap.Time("reset_at", decision.ResetAt),
		)
		return ScrapeResult{}, RateLimitError{Limit: decision.Limit, ResetAt: decision.ResetAt}
	}

	key := CacheKey(keyword)
	if products, ok := c.cache.Get(key); ok {
		c.metrics.IncCacheHit()
		c.logger.Debug("cache hit", zap.String("keyword", keyword), zap.Int("products", len(products)))
		return ScrapeResult{
			Keyword:   keyword,
			Products:  products,
			Cached:    true,
			FetchedAt: c.clock.Now(),
		}, nil
	}
	c.metrics.IncScrapeRequest()

	resp, err := c.fetch(ctx, keyword)
	if err != nil {
		var conn ConnectivityError
		if errors.As(err, &conn) {
			c.logger.Warn("marketplace unreachable, serving synthetic results",
				zap.String("keyword", keyword),
				zap.Error(err),
			)
			return ScrapeResult{
				Keyword:   keyword,
				Products:  SyntheticProducts(keyword),
				Synthetic: true,
				FetchedAt: c.clock.Now(),
			}, nil
		}
		c.logger.Error("scrape failed",
			zap.String("keyword", keyword),
			zap.String("kind", ErrorKind(err)),
			zap.Error(err),
		)
		return ScrapeResult{}, err
	}

	products := c.extractor.Extract(resp.Body)
	c.metrics.AddProducts(len(products))
	c.cache.Set(key, products, c.cfg.CacheTTL)
	c.logger.Info("scrape completed",
		zap.String("keyword", keyword),
		zap.String("url", resp.URL),
		zap.Int("products", len(products)),
		zap.Duration("duration", resp.Duration),
	)

	fetchedAt := c.clock.Now()
	c.record(keyword, resp, len(products), fetchedAt)

	return ScrapeResult{
		Keyword:   keyword,
		Products:  products,
		FetchedAt: fetchedAt,
	}, nil
}

// Wait blocks until background recorders finish.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close stops new recorder runs and waits for the ones in flight. Scrapes
// still complete after Close; only their recorders are skipped.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coordinator) fetch(ctx context.Context, keyword string) (FetchResponse, error) {
	req := FetchRequest{
		Keyword: keyword,
		URL:     c.cfg.Target.URL(keyword),
		Headers: c.cfg.Target.BrowserHeaders(),
	}
	c.logger.Debug("fetching search page", zap.String("keyword", keyword), zap.String("url", req.URL))

	if c.throttle != nil {
		if err := c.throttle.Wait(ctx, req.URL); err != nil {
			return FetchResponse{}, ClassifyFetchError(fmt.Errorf("upstream throttle: %w", err), 0, req.URL)
		}
	}

	start := time.Now()
	resp, err := c.fetcher.Fetch(ctx, req)
	err = ClassifyFetchError(err, resp.StatusCode, req.URL)
	c.metrics.ObserveFetch(ErrorKind(err), time.Since(start))
	if err != nil {
		return FetchResponse{}, err
	}
	if resp.URL == "" {
		resp.URL = req.URL
	}
	return resp, nil
}

func (c *Coordinator) record(keyword string, resp FetchResponse, total int, fetchedAt time.Time) {
	if c.recorders.empty() {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("coordinator closed, skipping recorders", zap.String("keyword", keyword))
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RecordTimeout)
		defer cancel()
		c.runRecorders(ctx, keyword, resp, total, fetchedAt)
	}()
}

func (c *Coordinator) runRecorders(
	ctx context.Context,
	keyword string,
	resp FetchResponse,
	total int,
	fetchedAt time.Time,
) {
	logger := c.logger.With(zap.String("keyword", keyword))
	record := ScrapeRecord{
		Keyword:      keyword,
		URL:          resp.URL,
		StatusCode:   resp.StatusCode,
		ProductCount: total,
		Duration:     resp.Duration,
		UsedHeadless: resp.UsedHeadless,
		FetchedAt:    fetchedAt,
	}
	if c.recorders.Hasher != nil {
		hash, err := c.recorders.Hasher.Hash(resp.Body)
		if err != nil {
			logger.Warn("hash page failed", zap.Error(err))
		}
		record.ContentHash = hash
	}
	if c.recorders.IDs != nil {
		id, err := c.recorders.IDs.NewID()
		if err != nil {
			logger.Warn("generate record id failed", zap.Error(err))
		}
		record.ID = id
	}
	if record.ID == "" {
		record.ID = fmt.Sprintf("%d", fetchedAt.UnixNano())
	}

	if c.recorders.Snapshots != nil {
		path := fmt.Sprintf("%s/%s/%s.html", c.cfg.SnapshotPrefix, fetchedAt.UTC().Format("2006/01/02"), record.ID)
		uri, err := c.recorders.Snapshots.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(resp.Body))
		if err != nil {
			logger.Warn("store page snapshot failed", zap.Error(err))
		} else {
			record.SnapshotURI = uri
		}
	}
	if c.recorders.History != nil {
		if err := c.recorders.History.StoreScrape(ctx, record); err != nil {
			logger.Warn("store scrape history failed", zap.Error(err))
		}
	}
	if c.recorders.Publisher != nil {
		event := ScrapeEvent{
			RecordID:    record.ID,
			Keyword:     keyword,
			URL:         record.URL,
			Total:       total,
			SnapshotURI: record.SnapshotURI,
			FetchedAt:   fetchedAt,
		}
		if _, err := c.recorders.Publisher.Publish(ctx, c.cfg.Topic, event); err != nil {
			logger.Warn("publish scrape event failed", zap.Error(err))
		}
	}
}
