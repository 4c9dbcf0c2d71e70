// Package api hosts the HTTP server, middleware, and handlers for the conversion service.
// Routes:
//   - GET /health reports engine readiness (loading, healthy, or unhealthy).
//   - GET /metrics for Prometheus scraping.
//   - GET /convert?file_id=... converts a remote blob using the caller's Authorization header.
//   - POST /convert converts the raw request body.
package api
