package scraper

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a search page and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor converts raw markup into an ordered list of products.
type Extractor interface {
	Extract(html []byte) []Product
}

// Cache stores extraction results keyed by sanitized keyword.
type Cache interface {
	Get(key string) ([]Product, bool)
	Set(key string, products []Product, ttl time.Duration)
}

// Admission decides whether a client may issue another request.
type Admission interface {
	Allow(clientKey string) Decision
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Throttle paces outbound requests to the marketplace.
type Throttle interface {
	Wait(ctx context.Context, url string) error
}

// Metrics receives counter updates at each coordinator decision point.
type Metrics interface {
	IncScrapeRequest()
	IncCacheHit()
	IncRateLimited()
	ObserveFetch(kind string, duration time.Duration)
	AddProducts(n int)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// HistoryStore persists one row per upstream scrape.
type HistoryStore interface {
	StoreScrape(ctx context.Context, record ScrapeRecord) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests of fetched pages.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
