// Package server provides the admin HTTP endpoint.
//
// Routes:
//   - GET /health: liveness plus pool statistics
//   - GET /metrics: Prometheus exposition of the sandbox metrics
//   - GET /pool: session pool statistics
//   - GET /experiments: scheduler state per experiment
//
// The server is optional and only started when a metrics address is
// configured.
package server
