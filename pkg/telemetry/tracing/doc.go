// Package tracing wires OpenTelemetry into Sluice.
//
// When tracing is enabled, every admission check and cost record becomes a
// span exported over OTLP/gRPC. Spans carry the resource, priority and
// denial reason, never the raw caller ID. When tracing is disabled the
// tracer is a no-op.
//
//	tracer, err := tracing.New(cfg.Telemetry.Tracing, tracing.WithGlobal())
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(ctx)
//
//	coord, err := limits.New(cfg.Throttle, limits.Options{Tracer: tracer.Tracer()})
//
// The admin server runs HTTPMiddleware so that a traceparent header sent by
// the caller parents the admission span.
package tracing
