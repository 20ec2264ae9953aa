// Package scraper defines the core types shared across subsystems and the
// request coordinator that drives a keyword search through them.
package scraper

import (
	"net/http"
	"time"
)

// Sentinel values used when a product field cannot be resolved.
const (
	TitleNotFound      = "not found"
	PriceUnavailable   = "unavailable"
	RatingUnavailable  = "no rating"
	ReviewsUnavailable = "no reviews"
)

// Product is one normalized listing extracted from a search-results page.
// Products are never mutated after extraction.
type Product struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Price       string `json:"price"`
	Rating      string `json:"rating"`
	ReviewCount string `json:"reviewCount"`
	ImageURL    string `json:"imageUrl"`
	ProductURL  string `json:"productUrl"`
}

// Retained reports whether the product carries enough data to be returned.
func (p Product) Retained() bool {
	return p.Title != TitleNotFound || p.ImageURL != ""
}

// ScrapeResult is returned by the coordinator for a successful request.
type ScrapeResult struct {
	Keyword   string
	Products  []Product
	Cached    bool
	Synthetic bool
	FetchedAt time.Time
}

// FetchRequest captures everything needed to fetch a search page.
type FetchRequest struct {
	Keyword string
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ScrapeRecord is persisted for every successful upstream scrape.
type ScrapeRecord struct {
	ID           string        `json:"id"`
	Keyword      string        `json:"keyword"`
	URL          string        `json:"url"`
	StatusCode   int           `json:"status_code"`
	ProductCount int           `json:"product_count"`
	ContentHash  string        `json:"content_hash"`
	SnapshotURI  string        `json:"snapshot_uri,omitempty"`
	Duration     time.Duration `json:"duration"`
	UsedHeadless bool          `json:"used_headless"`
	FetchedAt    time.Time     `json:"fetched_at"`
}

// ScrapeEvent is the notification payload published after an upstream scrape.
type ScrapeEvent struct {
	RecordID    string    `json:"record_id"`
	Keyword     string    `json:"keyword"`
	URL         string    `json:"url"`
	Total       int       `json:"total"`
	SnapshotURI string    `json:"snapshot_uri,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}
