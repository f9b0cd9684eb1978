// Package api hosts the HTTP server, middleware, and REST handlers for the
// digest service. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs and /v1/reanalyze to queue work, POST /v1/runs/{id}/cancel to stop it.
//   - GET /v1/runs/{id}/events for cursor polling, or an SSE stream with ?stream=true.
//   - POST /v1/digests to persist a digest, POST /v1/digests/preview to render one inline.
package api
