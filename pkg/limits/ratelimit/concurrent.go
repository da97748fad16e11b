package ratelimit

import (
	"sync"
	"sync/atomic"
)

// ConcurrentLimiter tracks in-flight requests globally and per resource.
//
// Unlike a semaphore it never refuses an Enter: the admission path asks
// Saturated before admitting, and guards call Enter/Leave around the actual
// work. This keeps the counter accurate even for callers that bypass
// admission (for example retries that were already admitted).
//
// # Thread Safety
//
// The global counter is atomic. Per-resource counts are guarded by a mutex
// and only touched on Enter/Leave.
type ConcurrentLimiter struct {
	limit   int64 // Maximum concurrent requests (0 = unlimited)
	current atomic.Int64

	byResource map[string]int64
	mu         sync.Mutex
}

// NewConcurrentLimiter creates a new in-flight tracker.
//
// Parameters:
//   - limit: Maximum number of simultaneous requests; 0 disables the cap
//
// Example:
//
//	limiter := NewConcurrentLimiter(50)
//	if limiter.Saturated() {
//	    // shed load
//	}
//	limiter.Enter("gpt-4o")
//	defer limiter.Leave("gpt-4o")
func NewConcurrentLimiter(limit int) *ConcurrentLimiter {
	if limit < 0 {
		limit = 0
	}
	return &ConcurrentLimiter{
		limit:      int64(limit),
		byResource: make(map[string]int64),
	}
}

// Enter records a new in-flight request and returns the global count.
func (cl *ConcurrentLimiter) Enter(resource string) int64 {
	cl.mu.Lock()
	cl.byResource[resource]++
	cl.mu.Unlock()

	return cl.current.Add(1)
}

// Leave records the completion of an in-flight request.
// It MUST be called exactly once per Enter.
func (cl *ConcurrentLimiter) Leave(resource string) int64 {
	cl.mu.Lock()
	if n := cl.byResource[resource] - 1; n > 0 {
		cl.byResource[resource] = n
	} else {
		delete(cl.byResource, resource)
	}
	cl.mu.Unlock()

	return cl.current.Add(-1)
}

// Saturated reports whether the in-flight count has reached the limit.
// It always returns false when no limit is configured.
func (cl *ConcurrentLimiter) Saturated() bool {
	return cl.limit > 0 && cl.current.Load() >= cl.limit
}

// Current returns the current number of in-flight requests.
func (cl *ConcurrentLimiter) Current() int64 {
	return cl.current.Load()
}

// Limit returns the configured concurrency limit.
func (cl *ConcurrentLimiter) Limit() int64 {
	return cl.limit
}

// Remaining returns the number of available concurrency slots.
// It returns -1 when no limit is configured.
func (cl *ConcurrentLimiter) Remaining() int64 {
	if cl.limit == 0 {
		return -1
	}

	remaining := cl.limit - cl.current.Load()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// InFlight returns the number of in-flight requests for a resource.
func (cl *ConcurrentLimiter) InFlight(resource string) int64 {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.byResource[resource]
}

// Snapshot returns the in-flight count of every busy resource.
func (cl *ConcurrentLimiter) Snapshot() map[string]int64 {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	snapshot := make(map[string]int64, len(cl.byResource))
	for name, n := range cl.byResource {
		snapshot[name] = n
	}
	return snapshot
}
