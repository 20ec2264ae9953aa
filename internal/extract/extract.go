// Package extract turns marketplace search-results markup into products.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-search-scraper/internal/scraper"
)

const containerSelector = `[data-component-type="s-search-result"]`

// Extractor implements scraper.Extractor over goquery.
type Extractor struct {
	baseURL  string
	currency Currency
	fields   fields
	logger   *zap.Logger
}

// New returns an Extractor that resolves relative links against baseURL and
// formats reconstructed prices with currency.
func New(baseURL string, currency Currency, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if currency == (Currency{}) {
		currency = BRL
	}
	return &Extractor{
		baseURL:  strings.TrimRight(baseURL, "/"),
		currency: currency,
		fields:   defaultFields(),
		logger:   logger,
	}
}

// Extract returns the retained products in document order. It never panics
// and returns an empty slice for empty or malformed input.
func (e *Extractor) Extract(html []byte) []scraper.Product {
	products := []scraper.Product{}
	if len(bytes.TrimSpace(html)) == 0 {
		return products
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		e.logger.Warn("parse search page failed", zap.Error(err))
		return products
	}

	containers := doc.Find(containerSelector)
	containers.Each(func(i int, sel *goquery.Selection) {
		product, err := e.extractOne(i, sel)
		if err != nil {
			e.logger.Warn("skipping result container", zap.Int("index", i), zap.Error(err))
			return
		}
		if !product.Retained() {
			return
		}
		product.ID = len(products) + 1
		products = append(products, product)
	})

	e.logger.Debug("extracted products",
		zap.Int("containers", containers.Length()),
		zap.Int("retained", len(products)),
	)
	return products
}

func (e *Extractor) extractOne(index int, sel *goquery.Selection) (product scraper.Product, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = scraper.ExtractionItemError{Index: index, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	return scraper.Product{
		Title:       e.title(sel),
		Price:       e.price(sel),
		Rating:      e.rating(sel),
		ReviewCount: e.reviews(sel),
		ImageURL:    e.image(sel),
		ProductURL:  e.productURL(sel),
	}, nil
}
