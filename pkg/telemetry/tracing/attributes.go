package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys. Custom keys use the "sluice.*" namespace.
const (
	AttrResource   = "sluice.resource"
	AttrPriority   = "sluice.priority"
	AttrIdentified = "sluice.identified"
	AttrReason     = "sluice.reason"
	AttrRetryAfter = "sluice.retry_after_seconds"

	AttrTokensInput  = "sluice.tokens.input"
	AttrTokensOutput = "sluice.tokens.output"
	AttrCost         = "sluice.cost.usd"

	AttrErrorMessage = "error.message"
)

// AdmissionAttributes returns the start attributes of an admission span.
// The caller ID itself is not recorded, only whether one was given.
func AdmissionAttributes(resource, priority string, identified bool) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String(AttrResource, resource),
		attribute.String(AttrPriority, priority),
		attribute.Bool(AttrIdentified, identified),
	)
}

// SetDenial records a denial on span and marks it as an error.
func SetDenial(span trace.Span, reason string, retryAfterSeconds int) {
	span.SetAttributes(
		attribute.String(AttrReason, reason),
		attribute.Int(AttrRetryAfter, retryAfterSeconds),
	)
	span.SetStatus(codes.Error, reason)
}

// SetCostAttributes records metered usage and its cost.
func SetCostAttributes(span trace.Span, inputTokens, outputTokens int64, cost float64) {
	span.SetAttributes(
		attribute.Int64(AttrTokensInput, inputTokens),
		attribute.Int64(AttrTokensOutput, outputTokens),
		attribute.Float64(AttrCost, cost),
	)
}
