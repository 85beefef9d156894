// Package api hosts the HTTP server, middleware, and REST handlers for crawl intake.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to submit a crawl job.
//   - GET /v1/crawls/{crawlId} for the status projection.
//   - POST /v1/crawls/{crawlId}/tasks to inject a task into an existing job's frontier.
//     Claimed URLs are refused with 409 unless the request sets force.
package api
