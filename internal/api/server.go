package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-search-scraper/internal/logging"
	"github.com/JakeFAU/marketplace-search-scraper/internal/metrics"
	"github.com/JakeFAU/marketplace-search-scraper/internal/scraper"
)

// Scraper serves keyword searches.
type Scraper interface {
	Scrape(ctx context.Context, clientKey, keyword string) (scraper.ScrapeResult, error)
}

// Options tunes the HTTP layer.
type Options struct {
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the coordinator and metrics collector.
type Server struct {
	router  chi.Router
	scraper Scraper
	metrics *metrics.Collector
	clock   scraper.Clock
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	s Scraper,
	collector *metrics.Collector,
	clock scraper.Clock,
	logger *zap.Logger,
	opts Options,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	srv := &Server{
		scraper: s,
		metrics: collector,
		clock:   clock,
		logger:  logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(chimw.RealIP)
	r.Use(srv.loggingMiddleware)
	r.Use(srv.recoverMiddleware)
	r.Use(collector.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Status: http.StatusNotFound})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Status: http.StatusMethodNotAllowed})
	})

	r.Get("/", srv.index)
	r.Get("/metrics", collector.Handler().ServeHTTP)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", srv.health)
		r.Get("/metrics", srv.stats)
		r.Get("/scrape", srv.scrape)
	})

	srv.router = r
	return srv
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type indexResponse struct {
	Message   string            `json:"message"`
	Endpoints map[string]string `json:"endpoints"`
}

type healthResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type statsResponse struct {
	Success        bool                `json:"success"`
	TotalRequests  int64               `json:"totalRequests"`
	ScrapeRequests int64               `json:"scrapeRequests"`
	CacheHits      int64               `json:"cacheHits"`
	RateLimited    int64               `json:"rateLimited"`
	UptimeSeconds  float64             `json:"uptimeSeconds"`
	Memory         metrics.MemoryStats `json:"memory"`
	Timestamp      time.Time           `json:"timestamp"`
}

type scrapeResponse struct {
	Success   bool              `json:"success"`
	Keyword   string            `json:"keyword"`
	Products  []scraper.Product `json:"products"`
	Total     int               `json:"total"`
	Cached    bool              `json:"cached"`
	Synthetic bool              `json:"synthetic,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type errorResponse struct {
	Success        bool   `json:"success"`
	Error          string `json:"error"`
	Status         int    `json:"status,omitempty"`
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, indexResponse{
		Message: "Marketplace search scraper API",
		Endpoints: map[string]string{
			"scrape":  "/api/scrape?keyword=<search term>",
			"health":  "/api/health",
			"metrics": "/api/metrics",
		},
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Success:   true,
		Message:   "Server is running",
		Timestamp: s.now(),
	})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	snap := s.metrics.Snapshot()
	writeJSON(w, http.StatusOK, statsResponse{
		Success:        true,
		TotalRequests:  snap.TotalRequests,
		ScrapeRequests: snap.ScrapeRequests,
		CacheHits:      snap.CacheHits,
		RateLimited:    snap.RateLimited,
		UptimeSeconds:  math.Round(snap.Uptime.Seconds()*1000) / 1000,
		Memory:         snap.Memory,
		Timestamp:      s.now(),
	})
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	keyword := r.URL.Query().Get("keyword")
	result, err := s.scraper.Scrape(r.Context(), clientKey(r), keyword)
	if err != nil {
		s.writeScrapeError(w, r, err)
		return
	}

	products := result.Products
	if products == nil {
		products = []scraper.Product{}
	}
	writeJSON(w, http.StatusOK, scrapeResponse{
		Success:   true,
		Keyword:   result.Keyword,
		Products:  products,
		Total:     len(products),
		Cached:    result.Cached,
		Synthetic: result.Synthetic,
		Timestamp: s.now(),
	})
}

func (s *Server) writeScrapeError(w http.ResponseWriter, r *http.Request, err error) {
	status, upstream := statusFor(err)
	body := errorResponse{Error: err.Error(), Status: status, UpstreamStatus: upstream}

	var limited scraper.RateLimitError
	switch {
	case status == http.StatusBadRequest:
		body.Status = 0
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limited.ResetAt, s.now())))
	case scraper.ErrorKind(err) == "internal":
		logging.FromContext(r.Context(), s.logger).Error("scrape request failed", zap.Error(err))
		body.Error = "internal server error"
	}
	writeJSON(w, status, body)
}

// statusFor maps a coordinator error to the HTTP status and, for upstream
// failures, the status observed from the marketplace.
func statusFor(err error) (status int, upstream int) {
	var (
		validation scraper.ValidationError
		limited    scraper.RateLimitError
		up         scraper.UpstreamFetchError
		timeout    scraper.TimeoutError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, 0
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, 0
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout, 0
	case errors.As(err, &up):
		switch {
		case up.StatusCode >= 500 && up.StatusCode <= 599:
			return up.StatusCode, up.StatusCode
		case up.StatusCode > 0:
			return http.StatusBadGateway, up.StatusCode
		default:
			return http.StatusInternalServerError, 0
		}
	default:
		return http.StatusInternalServerError, 0
	}
}

func retryAfterSeconds(resetAt, now time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now().UTC()
}

// clientKey identifies the caller for rate limiting. RealIP has already
// replaced RemoteAddr when a forwarding header was present.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}
