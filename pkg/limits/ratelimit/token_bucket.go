package ratelimit

import (
	"sync"
	"time"
)

// BucketSet holds one token bucket per (resource, caller) pair.
//
// Each bucket holds up to capacity tokens and refills continuously at
// capacity/60 tokens per second, so a full bucket represents one minute of
// the resource's limit. A request costs 1/multiplier tokens; a higher
// priority multiplier makes requests cheaper.
//
// # Algorithm
//
//  1. Refill: tokens = min(capacity, tokens + elapsed*capacity/60)
//  2. If tokens < cost: reject with retry = (cost-tokens)/(capacity/60)
//  3. Otherwise subtract cost and allow
//
// # Thread Safety
//
// Every bucket has its own mutex; the bucket map is guarded by an RWMutex.
type BucketSet struct {
	now     func() time.Time
	buckets map[bucketKey]*bucket
	mu      sync.RWMutex
}

// bucketKey identifies a bucket.
type bucketKey struct {
	resource string
	caller   string
}

// bucket is a single token bucket.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	lastRefill time.Time
	evicted    bool
}

// NewBucketSet creates an empty set of token buckets.
func NewBucketSet(cfg BucketConfig) *BucketSet {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &BucketSet{
		now:     now,
		buckets: make(map[bucketKey]*bucket),
	}
}

// TryConsume attempts to take 1/multiplier tokens from the bucket for
// (resource, caller).
//
// The bucket is created full on first use. capacity is the resource's current
// limit; if it has changed since the last call the bucket adopts it and
// clamps its level. A non-positive multiplier is treated as 1.
func (bs *BucketSet) TryConsume(resource, caller string, capacity, multiplier float64) (bool, time.Duration) {
	if multiplier <= 0 {
		multiplier = 1
	}
	cost := 1 / multiplier

	if capacity <= 0 {
		return false, ShortPeriod
	}

	key := bucketKey{resource: resource, caller: caller}
	now := bs.now()

	for {
		b := bs.getOrCreate(key, capacity, now)

		b.mu.Lock()
		if b.evicted {
			b.mu.Unlock()
			continue
		}

		b.setCapacityLocked(capacity)
		b.refillLocked(now)

		if b.tokens < cost {
			rate := b.capacity / ShortPeriod.Seconds()
			wait := time.Duration((cost - b.tokens) / rate * float64(time.Second))
			b.mu.Unlock()
			return false, wait
		}

		b.tokens -= cost
		b.mu.Unlock()
		return true, 0
	}
}

// Level returns the refilled token level for (resource, caller) without
// consuming anything. Unknown buckets report -1.
func (bs *BucketSet) Level(resource, caller string) float64 {
	bs.mu.RLock()
	b, exists := bs.buckets[bucketKey{resource: resource, caller: caller}]
	bs.mu.RUnlock()

	if !exists {
		return -1
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.levelAtLocked(bs.now())
}

// Levels returns the refilled level of every bucket, keyed by resource then caller.
func (bs *BucketSet) Levels() map[string]map[string]float64 {
	bs.mu.RLock()
	snapshot := make(map[bucketKey]*bucket, len(bs.buckets))
	for key, b := range bs.buckets {
		snapshot[key] = b
	}
	bs.mu.RUnlock()

	now := bs.now()
	levels := make(map[string]map[string]float64)
	for key, b := range snapshot {
		b.mu.Lock()
		level := b.levelAtLocked(now)
		b.mu.Unlock()

		byCaller, ok := levels[key.resource]
		if !ok {
			byCaller = make(map[string]float64)
			levels[key.resource] = byCaller
		}
		byCaller[key.caller] = level
	}

	return levels
}

// Len returns the number of live buckets.
func (bs *BucketSet) Len() int {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return len(bs.buckets)
}

// Sweep removes buckets that have refilled to capacity. A full bucket is
// indistinguishable from a freshly created one, so eviction loses nothing.
// It returns the number of evicted buckets.
func (bs *BucketSet) Sweep() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	now := bs.now()
	evicted := 0
	for key, b := range bs.buckets {
		b.mu.Lock()
		if b.levelAtLocked(now) >= b.capacity {
			b.evicted = true
			delete(bs.buckets, key)
			evicted++
		}
		b.mu.Unlock()
	}

	return evicted
}

// Reset drops every bucket so the next request starts from a full bucket.
func (bs *BucketSet) Reset() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	for key, b := range bs.buckets {
		b.mu.Lock()
		b.evicted = true
		b.mu.Unlock()
		delete(bs.buckets, key)
	}
}

// getOrCreate returns the bucket for key, creating a full one on first use.
func (bs *BucketSet) getOrCreate(key bucketKey, capacity float64, now time.Time) *bucket {
	bs.mu.RLock()
	b, exists := bs.buckets[key]
	bs.mu.RUnlock()

	if exists {
		return b
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()

	// Double-check after acquiring write lock
	if b, exists = bs.buckets[key]; exists {
		return b
	}

	b = &bucket{
		tokens:     capacity, // Start with full bucket
		capacity:   capacity,
		lastRefill: now,
	}
	bs.buckets[key] = b
	return b
}

// setCapacityLocked adopts a new capacity and clamps the level.
// Caller must hold lock.
func (b *bucket) setCapacityLocked(capacity float64) {
	if capacity == b.capacity {
		return
	}
	b.capacity = capacity
	if b.tokens > capacity {
		b.tokens = capacity
	}
}

// refillLocked adds tokens for the time elapsed since the last refill.
// Time moving backwards adds nothing. Caller must hold lock.
func (b *bucket) refillLocked(now time.Time) {
	b.tokens = b.levelAtLocked(now)
	if now.After(b.lastRefill) {
		b.lastRefill = now
	}
}

// levelAtLocked computes the level the bucket would have at now.
// Caller must hold lock.
func (b *bucket) levelAtLocked(now time.Time) float64 {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return b.tokens
	}

	level := b.tokens + elapsed*b.capacity/ShortPeriod.Seconds()
	if level > b.capacity {
		level = b.capacity
	}
	return level
}
