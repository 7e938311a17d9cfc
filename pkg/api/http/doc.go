// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Definition storage and retrieval
//   - Synchronous and queued runs
//   - Run status and cancellation
//   - Health checks
//   - Prometheus metrics
package http
