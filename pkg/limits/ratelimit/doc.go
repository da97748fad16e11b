// Package ratelimit provides the request-rate primitives used by the
// admission coordinator.
//
// # Overview
//
// The ratelimit package implements three strategies:
//
//   - Sliding Window: per-resource request timestamps over 60s, 5m, 1h and 24h
//   - Token Bucket: per (resource, caller) buckets weighted by priority
//   - Concurrent Limiter: in-flight request accounting with a global cap
//
// # Sliding Window
//
// The window limiter compares the number of recorded requests in each window
// against thresholds derived from the adjusted limit:
//
//	wl := ratelimit.NewWindowLimiter(ratelimit.WindowConfig{BurstAllowance: 5})
//	if ok, period, retry := wl.Allow("gpt-4o", 10); !ok {
//	    log.Printf("%s window full, retry in %s", period, retry)
//	}
//
// # Token Bucket
//
// Buckets refill continuously at capacity/60 tokens per second:
//
//	buckets := ratelimit.NewBucketSet(ratelimit.BucketConfig{})
//	if ok, retry := buckets.TryConsume("gpt-4o", "caller-1", 10, 1.0); !ok {
//	    // depleted
//	}
//
// # Concurrent Limiter
//
//	limiter := ratelimit.NewConcurrentLimiter(50)
//	limiter.Enter("gpt-4o")
//	defer limiter.Leave("gpt-4o")
//
// # Thread Safety
//
// All limiters are safe for concurrent use and lock per resource (or per
// bucket) rather than globally.
package ratelimit
