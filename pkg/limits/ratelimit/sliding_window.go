package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

// WindowLimiter enforces per-resource request rates over four nested
// sliding windows (short, medium, long, daily).
//
// Each resource keeps one ordered timestamp sequence per window. Before every
// check the sequences are pruned from the front, shortest window first, so a
// sequence never holds entries older than its window. Entries are appended
// only when a request is admitted.
//
// # Thresholds
//
// For an adjusted limit L (requests per 60 seconds) and burst allowance B:
//
//	short  = L + B
//	medium = L * 5
//	long   = L * 60
//	daily  = not enforced (reported only)
//
// # Thread Safety
//
// Each resource has its own mutex. The resource map is guarded by an
// RWMutex and entries are created with double-checked locking, so traffic
// for unrelated resources never contends on the same lock.
type WindowLimiter struct {
	burst   int
	now     func() time.Time
	windows map[string]*windowState
	mu      sync.RWMutex
}

// windowState holds the timestamp sequences for one resource.
type windowState struct {
	mu        sync.Mutex
	timelines [len(periods)]timeline
	evicted   bool
}

// timeline is an ascending sequence of unix-nano timestamps.
type timeline struct {
	stamps []int64
}

// NewWindowLimiter creates a new sliding window limiter.
//
// Example:
//
//	wl := NewWindowLimiter(WindowConfig{BurstAllowance: 5})
//	if ok, period, retry := wl.Allow("gpt-4o", 10); !ok {
//	    // denied by the period window; retry after the returned duration
//	}
func NewWindowLimiter(cfg WindowConfig) *WindowLimiter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	burst := cfg.BurstAllowance
	if burst < 0 {
		burst = 0
	}

	return &WindowLimiter{
		burst:   burst,
		now:     now,
		windows: make(map[string]*windowState),
	}
}

// Allow reports whether a new request for resource fits within every
// window given the adjusted limit.
//
// When the request is admitted its timestamp is appended to all four windows
// and Allow returns (true, PeriodNone, 0). When a window is full the attempt
// is not recorded and Allow returns the exceeded period together with a
// retry-after of at least one second.
func (wl *WindowLimiter) Allow(resource string, adjustedLimit int) (bool, Period, time.Duration) {
	now := wl.now()
	nowNanos := now.UnixNano()

	for {
		state := wl.getOrCreate(resource)

		state.mu.Lock()
		if state.evicted {
			// Lost a race with Sweep; look the resource up again.
			state.mu.Unlock()
			continue
		}

		state.pruneLocked(nowNanos)

		thresholds := wl.thresholds(adjustedLimit)
		for i, period := range periods[:len(thresholds)] {
			tl := &state.timelines[i]
			if len(tl.stamps) >= thresholds[i] {
				retry := retryAfter(tl, thresholds[i], period, nowNanos, resource)
				state.mu.Unlock()
				return false, period, retry
			}
		}

		for i := range state.timelines {
			state.timelines[i].stamps = append(state.timelines[i].stamps, nowNanos)
		}
		state.mu.Unlock()

		return true, PeriodNone, 0
	}
}

// Counts returns the current window counts for a resource after pruning.
func (wl *WindowLimiter) Counts(resource string) WindowCounts {
	wl.mu.RLock()
	state, exists := wl.windows[resource]
	wl.mu.RUnlock()

	if !exists {
		return WindowCounts{}
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	state.pruneLocked(wl.now().UnixNano())
	return state.countsLocked()
}

// Snapshot returns the window counts for every tracked resource.
func (wl *WindowLimiter) Snapshot() map[string]WindowCounts {
	wl.mu.RLock()
	states := make(map[string]*windowState, len(wl.windows))
	for name, state := range wl.windows {
		states[name] = state
	}
	wl.mu.RUnlock()

	nowNanos := wl.now().UnixNano()
	counts := make(map[string]WindowCounts, len(states))
	for name, state := range states {
		state.mu.Lock()
		state.pruneLocked(nowNanos)
		counts[name] = state.countsLocked()
		state.mu.Unlock()
	}

	return counts
}

// Sweep removes resources whose windows are all empty after pruning.
// Resources for which busy returns true are kept. It returns the number
// of evicted resources.
func (wl *WindowLimiter) Sweep(busy func(resource string) bool) int {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	nowNanos := wl.now().UnixNano()
	evicted := 0
	for name, state := range wl.windows {
		state.mu.Lock()
		state.pruneLocked(nowNanos)
		if state.emptyLocked() && (busy == nil || !busy(name)) {
			state.evicted = true
			delete(wl.windows, name)
			evicted++
		}
		state.mu.Unlock()
	}

	return evicted
}

// Reset clears all windows for all resources.
func (wl *WindowLimiter) Reset() {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	for name, state := range wl.windows {
		state.mu.Lock()
		state.evicted = true
		state.mu.Unlock()
		delete(wl.windows, name)
	}
}

// BurstAllowance returns the configured burst allowance.
func (wl *WindowLimiter) BurstAllowance() int {
	return wl.burst
}

// thresholds returns the enforced thresholds for short, medium and long.
func (wl *WindowLimiter) thresholds(adjustedLimit int) [3]int {
	if adjustedLimit < 0 {
		adjustedLimit = 0
	}
	perMinute := int(ShortPeriod / time.Second)
	return [3]int{
		adjustedLimit + wl.burst,
		adjustedLimit * int(MediumPeriod/time.Second) / perMinute,
		adjustedLimit * int(LongPeriod/time.Second) / perMinute,
	}
}

// getOrCreate returns the state for resource, creating it on first use.
func (wl *WindowLimiter) getOrCreate(resource string) *windowState {
	wl.mu.RLock()
	state, exists := wl.windows[resource]
	wl.mu.RUnlock()

	if exists {
		return state
	}

	wl.mu.Lock()
	defer wl.mu.Unlock()

	// Double-check after acquiring write lock
	if state, exists = wl.windows[resource]; exists {
		return state
	}

	state = &windowState{}
	wl.windows[resource] = state
	return state
}

// pruneLocked drops expired entries from every timeline, shortest first.
// Caller must hold state.mu.
func (s *windowState) pruneLocked(nowNanos int64) {
	for i, period := range periods {
		s.timelines[i].prune(nowNanos - int64(period.Duration()))
	}
}

// countsLocked returns the current sizes of the timelines.
// Caller must hold state.mu.
func (s *windowState) countsLocked() WindowCounts {
	return WindowCounts{
		Short:  len(s.timelines[0].stamps),
		Medium: len(s.timelines[1].stamps),
		Long:   len(s.timelines[2].stamps),
		Daily:  len(s.timelines[3].stamps),
	}
}

// emptyLocked reports whether every timeline is empty.
// Caller must hold state.mu.
func (s *windowState) emptyLocked() bool {
	for i := range s.timelines {
		if len(s.timelines[i].stamps) > 0 {
			return false
		}
	}
	return true
}

// prune removes every timestamp at or before cutoff.
func (tl *timeline) prune(cutoff int64) {
	i := 0
	for i < len(tl.stamps) && tl.stamps[i] <= cutoff {
		i++
	}
	if i == 0 {
		return
	}

	remaining := tl.stamps[i:]

	// Release the backing array once most of it is dead.
	if cap(tl.stamps) > 64 && len(remaining) < cap(tl.stamps)/4 {
		compacted := make([]int64, len(remaining), len(remaining)*2)
		copy(compacted, remaining)
		tl.stamps = compacted
		return
	}
	tl.stamps = remaining
}

// retryAfter estimates how long until the timeline drops below threshold.
//
// The number of entries that must age out is how far the window is over its
// threshold plus one. The wait is the age-out time of the last of those
// entries, plus deterministic per-resource jitter, floored at one second.
func retryAfter(tl *timeline, threshold int, period Period, nowNanos int64, resource string) time.Duration {
	over := len(tl.stamps) - threshold + 1
	if over < 1 {
		over = 1
	}
	if over > len(tl.stamps) {
		over = len(tl.stamps)
	}

	var wait time.Duration
	if over > 0 {
		expiresAt := tl.stamps[over-1] + int64(period.Duration())
		wait = time.Duration(expiresAt - nowNanos)
	} else {
		// Zero threshold: nothing can age out, wait a full window.
		wait = period.Duration()
	}

	wait += jitter(resource)
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// jitter derives a stable 0-999ms offset from the resource name so callers
// throttled on the same resource do not retry in lockstep with other resources.
func jitter(resource string) time.Duration {
	h := fnv.New32a()
	_, _ = h.Write([]byte(resource))
	return time.Duration(h.Sum32()%1000) * time.Millisecond
}
