// Package telemetry groups the observability plumbing of Sluice.
//
// # Components
//
//   - logging: slog construction, context fields and caller redaction
//   - metrics: Prometheus registry and /metrics handler
//   - tracing: OpenTelemetry tracer provider and W3C propagation
//   - health: liveness, readiness and version endpoints
//
// Limiter-specific metrics and spans are produced by package limits; the
// packages here only provide the sinks and the HTTP surfaces.
package telemetry
