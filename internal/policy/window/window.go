// Package window implements per-client fixed-window admission control.
package window

import (
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/marketplace-search-scraper/internal/scraper"
)

// Defaults applied when Config leaves a field unset.
const (
	DefaultMax        = 15
	DefaultWindow     = time.Minute
	DefaultMaxClients = 10000
)

// Config holds limiter settings.
type Config struct {
	Max        int
	Window     time.Duration
	MaxClients int
}

type clientWindow struct {
	count   int
	resetAt time.Time
}

// Limiter admits at most Max requests per client per fixed Window.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	clock   scraper.Clock
	windows map[string]*clientWindow
}

// New creates a Limiter.
func New(cfg Config, clock scraper.Clock) (*Limiter, error) {
	if clock == nil {
		return nil, fmt.Errorf("window limiter clock is required")
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	return &Limiter{
		cfg:     cfg,
		clock:   clock,
		windows: make(map[string]*clientWindow),
	}, nil
}

// Allow counts one request for clientKey and reports whether it is admitted.
// A rejected request does not consume quota.
func (l *Limiter) Allow(clientKey string) scraper.Decision {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[clientKey]
	if !ok || !now.Before(w.resetAt) {
		if !ok && len(l.windows) >= l.cfg.MaxClients {
			l.pruneLocked(now)
		}
		w = &clientWindow{resetAt: now.Add(l.cfg.Window)}
		l.windows[clientKey] = w
	}

	if w.count >= l.cfg.Max {
		return scraper.Decision{Allowed: false, Limit: l.cfg.Max, ResetAt: w.resetAt}
	}
	w.count++
	return scraper.Decision{
		Allowed:   true,
		Limit:     l.cfg.Max,
		Remaining: l.cfg.Max - w.count,
		ResetAt:   w.resetAt,
	}
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// pruneLocked drops windows that expired more than one window length ago.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	for key, w := range l.windows {
		if w.resetAt.Before(cutoff) {
			delete(l.windows, key)
		}
	}
}
