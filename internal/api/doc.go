// Package api hosts the HTTP server, middleware, and REST handlers for the
// essayhelper service. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/search for semantic reference lookup.
//   - GET /v1/articles/{id} for full article records.
//   - POST /v1/feedback for user feedback intake.
//   - GET /v1/runs and /v1/runs/{id}/... for pipeline run history via the
//     RunRepository interface.
package api
