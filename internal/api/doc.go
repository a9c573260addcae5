// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/snapshots to start a crawl, /v1/jobs/{job_id}/... for status
//     and cancellation.
//   - GET /v1/snapshots/{snapshot_id}/... for archived records and decrypted
//     page content.
package api
