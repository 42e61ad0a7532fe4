// Package server hosts the Gatekeeper HTTP API.
//
// The server exposes the decision endpoint consumed by edge gateways, the
// health endpoints used by the platform, and the Prometheus scrape endpoint.
// It owns the listener lifecycle: signal handling, graceful shutdown, and
// timeouts all live here.
package server
