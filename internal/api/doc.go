// Package api hosts the diagnostics HTTP surface for the digest service.
// Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to execute one digest run synchronously.
//   - GET /v1/runs/latest for the most recent run report.
package api
