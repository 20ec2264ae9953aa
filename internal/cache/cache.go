// Package cache stores extraction results in a bounded LRU with per-entry
// expiry.
package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/JakeFAU/marketplace-search-scraper/internal/scraper"
)

// DefaultMaxEntries bounds the cache when no capacity is configured.
const DefaultMaxEntries = 1000

type entry struct {
	products  []scraper.Product
	expiresAt time.Time
}

// Cache implements scraper.Cache. Expired entries are dropped lazily on Get.
type Cache struct {
	mu         sync.Mutex
	lru        *lru.Cache[string, entry]
	defaultTTL time.Duration
	clock      scraper.Clock
}

// New builds a cache holding at most maxEntries results.
func New(maxEntries int, defaultTTL time.Duration, clock scraper.Clock) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if defaultTTL <= 0 {
		return nil, fmt.Errorf("cache default ttl must be positive, got %s", defaultTTL)
	}
	if clock == nil {
		return nil, fmt.Errorf("cache clock is required")
	}
	l, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Cache{lru: l, defaultTTL: defaultTTL, clock: clock}, nil
}

// Key returns the cache key for a sanitized keyword.
func Key(keyword string) string {
	return scraper.CacheKey(keyword)
}

// Get returns the stored products when present and not yet expired.
func (c *Cache) Get(key string) ([]scraper.Product, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.products, true
}

// Set stores products under key. A non-positive ttl uses the default.
func (c *Cache) Set(key string, products []scraper.Product, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry{products: products, expiresAt: c.clock.Now().Add(ttl)})
}

// Len reports the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
