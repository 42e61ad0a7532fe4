// Package telemetry groups the observability surfaces: structured logging,
// Prometheus metrics exposition, and health checks.
package telemetry
