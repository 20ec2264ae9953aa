package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/marketplace-search-scraper/internal/scraper"
)

// fieldStrategy pulls one raw value out of a result container. An empty
// return means the strategy did not match.
type fieldStrategy func(*goquery.Selection) string

var (
	ratingPattern  = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	reviewsPattern = regexp.MustCompile(`\d+(?:[.,]\d{3})*`)
)

// fields holds the ordered strategies for each product field.
type fields struct {
	title          []fieldStrategy
	rating         []fieldStrategy
	reviews        []fieldStrategy
	image          []fieldStrategy
	link           []fieldStrategy
	offscreenPrice []fieldStrategy
}

func defaultFields() fields {
	return fields{
		title: []fieldStrategy{
			textOf("h2 a span"),
			textOf(".a-size-medium"),
			textOf(".a-size-base-plus"),
		},
		rating: []fieldStrategy{
			textOf(".a-icon-alt"),
			attrOf(`[aria-label*="estrela"]`, "aria-label"),
			attrOf(`[aria-label*="star"]`, "aria-label"),
			textOf(".a-icon-star-small"),
		},
		reviews: []fieldStrategy{
			textOf(`a[href*="customerReviews"]`),
			textOf(".a-size-base.s-underline-text"),
		},
		image: []fieldStrategy{
			attrOf("img.s-image", "src"),
			attrOf("img.s-image", "data-src"),
			attrOf(".a-image-container img", "src"),
			attrOf(".a-image-container img", "data-src"),
		},
		link: []fieldStrategy{
			attrOf("h2 a", "href"),
			attrOf(`.a-link-normal[href*="/dp/"]`, "href"),
		},
		offscreenPrice: []fieldStrategy{
			textOf(".a-price .a-offscreen"),
			textOf(".a-price-current .a-offscreen"),
		},
	}
}

func textOf(selector string) fieldStrategy {
	return func(sel *goquery.Selection) string {
		return strings.TrimSpace(sel.Find(selector).First().Text())
	}
}

func attrOf(selector, attr string) fieldStrategy {
	return func(sel *goquery.Selection) string {
		return strings.TrimSpace(sel.Find(selector).First().AttrOr(attr, ""))
	}
}

// firstMatch runs strategies in order and returns the first value accepted
// by parse.
func firstMatch(sel *goquery.Selection, strategies []fieldStrategy, parse func(string) (string, bool)) (string, bool) {
	for _, strategy := range strategies {
		raw := strategy(sel)
		if raw == "" {
			continue
		}
		if value, ok := parse(raw); ok {
			return value, true
		}
	}
	return "", false
}

func nonEmpty(raw string) (string, bool) {
	return raw, raw != ""
}

func (e *Extractor) title(sel *goquery.Selection) string {
	if v, ok := firstMatch(sel, e.fields.title, nonEmpty); ok {
		return v
	}
	return scraper.TitleNotFound
}

func (e *Extractor) rating(sel *goquery.Selection) string {
	if v, ok := firstMatch(sel, e.fields.rating, parseRating); ok {
		return v + " stars"
	}
	return scraper.RatingUnavailable
}

func (e *Extractor) reviews(sel *goquery.Selection) string {
	if v, ok := firstMatch(sel, e.fields.reviews, parseReviews); ok {
		return v
	}
	return scraper.ReviewsUnavailable
}

func (e *Extractor) image(sel *goquery.Selection) string {
	if v, ok := firstMatch(sel, e.fields.image, nonEmpty); ok {
		return e.absolute(v, false)
	}
	return ""
}

func (e *Extractor) productURL(sel *goquery.Selection) string {
	if v, ok := firstMatch(sel, e.fields.link, nonEmpty); ok {
		return e.absolute(v, true)
	}
	return ""
}

func (e *Extractor) price(sel *goquery.Selection) string {
	if v, ok := firstMatch(sel, e.fields.offscreenPrice, nonEmpty); ok {
		return v
	}
	whole := strings.TrimSpace(sel.Find(".a-price-whole").First().Text())
	fraction := strings.TrimSpace(sel.Find(".a-price-fraction").First().Text())
	return reconstructPrice(whole, fraction, e.currency)
}

// parseRating accepts "4,5 de 5 estrelas" and "4.5 out of 5 stars" alike.
func parseRating(raw string) (string, bool) {
	m := ratingPattern.FindString(raw)
	if m == "" {
		return "", false
	}
	return strings.ReplaceAll(m, ",", "."), true
}

func parseReviews(raw string) (string, bool) {
	m := reviewsPattern.FindString(raw)
	return m, m != ""
}

// absolute resolves protocol-relative links and, for product links,
// origin-relative paths against the marketplace base URL.
func (e *Extractor) absolute(link string, resolvePath bool) string {
	switch {
	case strings.HasPrefix(link, "//"):
		return "https:" + link
	case resolvePath && strings.HasPrefix(link, "/"):
		return e.baseURL + link
	default:
		return link
	}
}
