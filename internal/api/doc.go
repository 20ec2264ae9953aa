// Package api hosts the HTTP server, middleware, and JSON handlers.
// Routes:
//   - GET /api/scrape?keyword= for marketplace search results.
//   - GET /api/health for liveness probes.
//   - GET /api/metrics for the JSON counter snapshot.
//   - GET /metrics for Prometheus scraping.
//   - GET / for an index of the endpoints above.
package api
