// Package metrics tracks service counters in-process and mirrors them to a
// dedicated Prometheus registry.
package metrics

import (
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the cumulative counters exposed by /api/metrics together
// with their Prometheus collectors. All methods are safe on a nil receiver.
type Collector struct {
	startedAt time.Time

	totalRequests  atomic.Int64
	scrapeRequests atomic.Int64
	cacheHits      atomic.Int64
	rateLimited    atomic.Int64

	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	scrapeRequestsTotal prometheus.Counter
	cacheHitsTotal      prometheus.Counter
	rateLimitedTotal    prometheus.Counter
	upstreamErrorsTotal *prometheus.CounterVec
	productsTotal       prometheus.Counter
	fetchDuration       prometheus.Histogram
	throttleDelay       *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

// New constructs a Collector and registers its metrics on a fresh registry.
func New() *Collector {
	c := &Collector{
		startedAt: time.Now(),
		registry:  prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests received by the service.",
		}),
		scrapeRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_scrape_requests_total",
			Help: "Total cache misses that triggered an upstream scrape.",
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_cache_hits_total",
			Help: "Total scrape requests served from cache.",
		}),
		rateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_rate_limited_total",
			Help: "Total scrape requests rejected by the per-client limiter.",
		}),
		upstreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_upstream_errors_total",
			Help: "Total failed upstream fetches by error kind.",
		}, []string{"kind"}),
		productsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_products_extracted_total",
			Help: "Total products extracted from upstream pages.",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_fetch_duration_seconds",
			Help:    "Upstream search page fetch latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		throttleDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_upstream_throttle_delay_seconds",
			Help:    "Time spent waiting on the outbound throttle, by host.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"host"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}

	c.registry.MustRegister(
		c.requestsTotal,
		c.scrapeRequestsTotal,
		c.cacheHitsTotal,
		c.rateLimitedTotal,
		c.upstreamErrorsTotal,
		c.productsTotal,
		c.fetchDuration,
		c.throttleDelay,
		c.httpRequestsTotal,
		c.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// IncTotalRequest counts one inbound HTTP request.
func (c *Collector) IncTotalRequest() {
	if c == nil {
		return
	}
	c.totalRequests.Add(1)
	c.requestsTotal.Inc()
}

// IncScrapeRequest counts one cache miss that goes upstream.
func (c *Collector) IncScrapeRequest() {
	if c == nil {
		return
	}
	c.scrapeRequests.Add(1)
	c.scrapeRequestsTotal.Inc()
}

// IncCacheHit counts one request answered from cache.
func (c *Collector) IncCacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Add(1)
	c.cacheHitsTotal.Inc()
}

// IncRateLimited counts one rejected request.
func (c *Collector) IncRateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Add(1)
	c.rateLimitedTotal.Inc()
}

// ObserveFetch records an upstream fetch outcome. kind is "none" on success.
func (c *Collector) ObserveFetch(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.fetchDuration.Observe(d.Seconds())
	if kind != "" && kind != "none" {
		c.upstreamErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// AddProducts counts extracted products.
func (c *Collector) AddProducts(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.productsTotal.Add(float64(n))
}

// ObserveThrottleDelay records time spent waiting on the outbound throttle.
func (c *Collector) ObserveThrottleDelay(host string, d time.Duration) {
	if c == nil {
		return
	}
	c.throttleDelay.WithLabelValues(SanitizeSite(host)).Observe(d.Seconds())
}

// ObserveHTTPRequest records one served HTTP request.
func (c *Collector) ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// MemoryStats is the subset of runtime.MemStats reported by Snapshot.
type MemoryStats struct {
	HeapAlloc  uint64 `json:"heapAlloc"`
	HeapInuse  uint64 `json:"heapInuse"`
	HeapSys    uint64 `json:"heapSys"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"numGC"`
	Goroutines int    `json:"goroutines"`
}

// Snapshot is a point-in-time copy of the cumulative counters.
type Snapshot struct {
	TotalRequests  int64
	ScrapeRequests int64
	CacheHits      int64
	RateLimited    int64
	Uptime         time.Duration
	Memory         MemoryStats
}

// Snapshot reads the counters, uptime and memory usage at call time.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Snapshot{
		TotalRequests:  c.totalRequests.Load(),
		ScrapeRequests: c.scrapeRequests.Load(),
		CacheHits:      c.cacheHits.Load(),
		RateLimited:    c.rateLimited.Load(),
		Uptime:         time.Since(c.startedAt),
		Memory: MemoryStats{
			HeapAlloc:  ms.HeapAlloc,
			HeapInuse:  ms.HeapInuse,
			HeapSys:    ms.HeapSys,
			Sys:        ms.Sys,
			NumGC:      ms.NumGC,
			Goroutines: runtime.NumGoroutine(),
		},
	}
}

// SanitizeSite extracts a lowercase hostname from a URL or bare host.
// It returns "unknown" if the input is unusable.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
