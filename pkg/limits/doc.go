// Package limits decides whether a request for a scarce resource may
// proceed right now.
//
// # Overview
//
// A Coordinator combines several independent limiters and applies them in
// a fixed order for every admission check:
//
//   - circuit breaker per resource
//   - global daily cost budget
//   - per-caller daily quotas (requests, tokens, cost)
//   - token bucket per resource and caller, scaled by priority
//   - global concurrency cap
//   - nested sliding windows per resource (60s, 5m, 1h)
//
// An adaptive controller samples every decision and periodically nudges
// each resource's base limit toward a target deny rate.
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - ratelimit: Sliding windows, token buckets and the in-flight counter
//   - breaker: Error-ratio circuit breaker with exponential trips
//   - quota: Per-caller daily quotas
//   - budget: Cost ledger, threshold alerts and the cron reset scheduler
//   - adaptive: Deny-rate driven limit tuning
//   - notify: Alert sinks (log, webhook)
//   - storage: Persisted caller quotas (memory, SQLite, Redis)
//
// # Usage
//
//	c, err := limits.New(cfg.Throttle, limits.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	if err := c.Start(ctx); err != nil {
//	    return err
//	}
//	defer c.Stop()
//
//	guard, outcome := c.Admit(ctx, limits.Request{
//	    Resource: "gpt-4o",
//	    CallerID: "team-a",
//	    Priority: limits.PriorityHigh,
//	})
//	if !outcome.Admitted {
//	    // reply 429 with Retry-After: outcome.RetryAfterSeconds()
//	    return outcome.Err("gpt-4o")
//	}
//	defer guard.Release()
//
//	resp, err := callModel(ctx)
//	guard.Finish(err)
//	c.RecordCost(ctx, "gpt-4o", "team-a", resp.InputTokens, resp.OutputTokens)
//
// # Thread Safety
//
// All operations are safe for concurrent use. State is locked per resource
// (or per resource and caller), so unrelated traffic never contends on a
// single lock. Checks never perform I/O.
package limits
