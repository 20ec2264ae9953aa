// Package headless renders marketplace search pages in headless Chrome for
// deployments where the plain HTTP fetch is served a script-only shell.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/marketplace-search-scraper/internal/scraper"
)

// DefaultNavigationTimeout bounds a single page render.
const DefaultNavigationTimeout = 45 * time.Second

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Fetcher implements scraper.Fetcher using chromedp.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. Chrome itself is
// started lazily on the first fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the browser allocator.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders the search page and returns the resulting DOM.
func (f *Fetcher) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return scraper.FetchResponse{}, scraper.ClassifyFetchError(err, 0, request.URL)
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()
	// Honor caller cancellation as well as the navigation timeout.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := newDocumentResponse()
	chromedp.ListenTarget(taskCtx, doc.captureEvent)

	start := time.Now()
	html, finalURL, err := f.render(taskCtx, request)
	if err != nil {
		return scraper.FetchResponse{}, classifyBrowserError(err, request.URL)
	}

	status, headers, responseURL := doc.resolve(request.URL, finalURL)
	resp := scraper.FetchResponse{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}
	if err := scraper.ClassifyFetchError(nil, status, responseURL); err != nil {
		return resp, err
	}
	return resp, nil
}

func (f *Fetcher) render(ctx context.Context, request scraper.FetchRequest) (string, string, error) {
	var html, finalURL string
	actions := []chromedp.Action{
		f.networkSetupAction(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		ua := headers.Get("User-Agent")
		if ua == "" {
			ua = f.cfg.UserAgent
		}
		if ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if extra := toNetworkHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

// Chrome reports navigation failures as net error strings.
var (
	connectivityNetErrors = []string{
		"ERR_NAME_NOT_RESOLVED",
		"ERR_CONNECTION_REFUSED",
	}
	timeoutNetErrors = []string{
		"ERR_TIMED_OUT",
		"ERR_CONNECTION_TIMED_OUT",
	}
)

func classifyBrowserError(err error, url string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return scraper.TimeoutError{Err: err}
	}
	msg := err.Error()
	for _, code := range connectivityNetErrors {
		if strings.Contains(msg, code) {
			return scraper.ConnectivityError{Err: err}
		}
	}
	for _, code := range timeoutNetErrors {
		if strings.Contains(msg, code) {
			return scraper.TimeoutError{Err: err}
		}
	}
	return scraper.ClassifyFetchError(err, 0, url)
}

// documentResponse records the first top-level document response of a
// navigation. Redirect hops do not emit responseReceived, so the first
// document event is the final page.
type documentResponse struct {
	mu      sync.Mutex
	seen    bool
	status  int
	headers http.Header
	url     string
}

func newDocumentResponse() *documentResponse {
	return &documentResponse{headers: http.Header{}}
}

func (d *documentResponse) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		d.capture(resp)
	}
}

func (d *documentResponse) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			// CDP joins repeated headers with newlines.
			for _, entry := range strings.Split(v, "\n") {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(event.Response.Status)
	d.headers = headers
	d.url = event.Response.URL
}

func (d *documentResponse) resolve(requestURL, finalURL string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	url := d.url
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	return status, d.headers.Clone(), url
}

// browserManagedHeaders are left to Chrome, which negotiates encodings and
// connection reuse itself; the user agent goes through emulation instead.
var browserManagedHeaders = map[string]bool{
	"User-Agent":      true,
	"Accept-Encoding": true,
	"Connection":      true,
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 || browserManagedHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		headers[key] = strings.Join(values, ", ")
	}
	return headers
}
