// Command scraperd serves structured product listings scraped from a
// marketplace search page.
//
// Request flow: GET /api/scrape?keyword= is validated, admitted by the
// per-client fixed-window limiter, answered from the in-memory LRU cache when
// fresh, and otherwise fetched once from the marketplace (colly by default,
// chromedp when fetcher.engine=headless), parsed with goquery and cached.
// Connectivity failures degrade to a small synthetic dataset that is never
// cached.
//
// Optional sinks run after each upstream scrape: the raw page is archived
// (memory, local disk or GCS), a history row is written to Postgres, and an
// event is published to Pub/Sub.
//
// Configuration comes from an optional YAML file (-config) and SCRAPER_*
// environment variables; PORT, REQUEST_TIMEOUT_MS, CACHE_TTL_MS and
// RATE_LIMIT_MAX are honored for older deployments. The process drains
// in-flight requests on SIGINT/SIGTERM before exiting.
package main
