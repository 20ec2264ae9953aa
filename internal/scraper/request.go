package scraper

import (
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Keyword bounds, in runes.
const (
	MinKeywordLength = 2
	MaxKeywordLength = 80
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// SanitizeKeyword trims the raw keyword, rejects empty or too-short input and
// truncates anything longer than MaxKeywordLength.
func SanitizeKeyword(raw string) (string, error) {
	keyword := strings.TrimSpace(raw)
	if keyword == "" {
		return "", ValidationError{Reason: "keyword is required"}
	}
	if utf8.RuneCountInString(keyword) < MinKeywordLength {
		return "", ValidationError{Reason: "keyword must be at least 2 characters"}
	}
	if utf8.RuneCountInString(keyword) > MaxKeywordLength {
		keyword = string([]rune(keyword)[:MaxKeywordLength])
	}
	return keyword, nil
}

// SearchTarget describes where the marketplace search page lives.
type SearchTarget struct {
	BaseURL        string
	SearchPath     string
	QueryParam     string
	AcceptLanguage string
	UserAgent      string
}

// URL builds the search URL for keyword.
func (t SearchTarget) URL(keyword string) string {
	path := t.SearchPath
	if path == "" {
		path = "/s"
	}
	param := t.QueryParam
	if param == "" {
		param = "k"
	}
	q := url.Values{}
	q.Set(param, keyword)
	return strings.TrimRight(t.BaseURL, "/") + path + "?" + q.Encode()
}

// BrowserHeaders returns request headers emulating a desktop browser.
func (t SearchTarget) BrowserHeaders() http.Header {
	ua := t.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	lang := t.AcceptLanguage
	if lang == "" {
		lang = "pt-BR,pt;q=0.9,en;q=0.8"
	}
	h := http.Header{}
	h.Set("User-Agent", ua)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", lang)
	h.Set("Accept-Encoding", "gzip")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}
