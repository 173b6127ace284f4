// Package api hosts the operator HTTP surface that runs next to a scrape.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the live record count of the current run.
package api
