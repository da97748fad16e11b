// Package server exposes an admission coordinator over HTTP.
//
// # Endpoints
//
//	GET    /health/live            liveness probe
//	GET    /health/ready           readiness probe (503 when the coordinator is stopped)
//	GET    /version                build information
//	GET    /metrics                Prometheus metrics
//	GET    /v1/stats               limiter snapshot
//	POST   /v1/admin/reset         clear counters, buckets, breakers and spend
//	POST   /v1/admission/check     run an admission check (429 on denial)
//	POST   /v1/admission/outcome   report a call outcome to the circuit breaker
//	POST   /v1/admission/cost      record token usage and return its cost
//	GET    /v1/quotas              list caller quota overrides
//	GET    /v1/quotas/{caller}     effective quota and usage of one caller
//	PUT    /v1/quotas/{caller}     persist a caller override
//	DELETE /v1/quotas/{caller}     remove a stored override
//
// Probe, version and metrics paths are configurable. The /v1 API sits
// behind its own token bucket (admin.rate_limit, admin.rate_burst).
//
// Denials carry Retry-After (whole seconds, rounded up) and
// X-Throttle-Reason with the reason code.
//
// # Embedding
//
// AdmissionMiddleware puts the coordinator in front of any handler:
//
//	h := server.AdmissionMiddleware(coord, server.HeaderExtractor)(upstream)
//
// The slot is held while the wrapped handler runs. 5xx responses are
// reported as failures to the circuit breaker.
//
// # Middleware
//
// Every request passes through recovery, request ID, trace propagation and
// access logging, in that order.
package server
