package quota

import (
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Kind identifies which daily ceiling denied a request.
type Kind string

const (
	// KindNone means no ceiling was exceeded.
	KindNone Kind = ""

	// KindRequests is the daily request count ceiling.
	KindRequests Kind = "requests"

	// KindTokens is the daily token ceiling.
	KindTokens Kind = "tokens"

	// KindCost is the daily cost ceiling in USD.
	KindCost Kind = "cost"
)

// usageTTL keeps yesterday's entries around long enough to be inspected,
// after which go-cache expires them.
const usageTTL = 48 * time.Hour

// Limits holds a caller's daily ceilings. A zero value means unlimited.
type Limits struct {
	DailyRequests int64   `json:"daily_requests" yaml:"daily_requests"`
	DailyTokens   int64   `json:"daily_tokens" yaml:"daily_tokens"`
	DailyCost     float64 `json:"daily_cost" yaml:"daily_cost"`
}

// IsZero reports whether no ceiling is configured.
func (l Limits) IsZero() bool {
	return l.DailyRequests == 0 && l.DailyTokens == 0 && l.DailyCost == 0
}

// Usage is a caller's consumption for one UTC day.
type Usage struct {
	Day        string           `json:"day"`
	Requests   int64            `json:"requests"`
	Tokens     int64            `json:"tokens"`
	Cost       float64          `json:"cost"`
	ByResource map[string]int64 `json:"by_resource,omitempty"`
}

// Config configures a Tracker.
type Config struct {
	// Defaults apply to every identified caller without an override.
	Defaults Limits

	// Callers holds per-caller overrides.
	Callers map[string]Limits

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time

	// Logger receives fail-closed warnings.
	Logger *slog.Logger
}

// Tracker enforces per-caller daily request, token and cost ceilings.
//
// Usage is kept in a go-cache keyed by "caller|YYYY-MM-DD" so a new UTC day
// starts from an empty entry and old days expire on their own. Each entry
// has its own mutex; the cache only serializes lookups.
type Tracker struct {
	mu        sync.RWMutex
	defaults  Limits
	overrides map[string]Limits

	usage  *cache.Cache
	now    func() time.Time
	logger *slog.Logger
}

// entry is the mutable usage record stored in the cache.
type entry struct {
	mu    sync.Mutex
	usage Usage
}

// NewTracker creates a quota tracker.
func NewTracker(cfg Config) *Tracker {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	overrides := make(map[string]Limits, len(cfg.Callers))
	for caller, l := range cfg.Callers {
		overrides[caller] = l
	}

	return &Tracker{
		defaults:  cfg.Defaults,
		overrides: overrides,
		usage:     cache.New(usageTTL, time.Hour),
		now:       now,
		logger:    logger.With("component", "quota"),
	}
}

// Check reports whether callerID may make another request today.
//
// Ceilings are checked in order: requests, tokens (including the
// estimate), then cost. The retry delay is always the time until the next
// UTC midnight. An empty caller ID bypasses quotas entirely.
func (t *Tracker) Check(callerID, resource string, estimatedTokens int) (bool, time.Duration, Kind) {
	if callerID == "" {
		return true, 0, KindNone
	}

	limits := t.LimitsFor(callerID)
	if limits.IsZero() {
		return true, 0, KindNone
	}

	now := t.now().UTC()
	retry := UntilMidnight(now)

	if kind := corruptLimits(limits); kind != KindNone {
		t.logger.Warn("invalid quota limits, denying request",
			"caller", callerID,
			"resource", resource,
			"kind", string(kind),
		)
		return false, retry, kind
	}

	e := t.entryFor(callerID, now)
	e.mu.Lock()
	u := e.usage
	e.mu.Unlock()

	if limits.DailyRequests > 0 && u.Requests >= limits.DailyRequests {
		return false, retry, KindRequests
	}

	if limits.DailyTokens > 0 {
		estimate := int64(estimatedTokens)
		if estimate < 0 {
			estimate = 0
		}
		if u.Tokens >= limits.DailyTokens || u.Tokens+estimate > limits.DailyTokens {
			return false, retry, KindTokens
		}
	}

	if math.IsNaN(u.Cost) || u.Cost < 0 {
		t.logger.Warn("corrupt quota cost usage, denying request",
			"caller", callerID,
			"cost", u.Cost,
		)
		return false, retry, KindCost
	}
	if limits.DailyCost > 0 && u.Cost >= limits.DailyCost {
		return false, retry, KindCost
	}

	return true, 0, KindNone
}

// RecordRequest counts an admitted request against callerID's daily usage.
func (t *Tracker) RecordRequest(callerID, resource string) {
	if callerID == "" {
		return
	}

	e := t.entryFor(callerID, t.now().UTC())
	e.mu.Lock()
	defer e.mu.Unlock()

	e.usage.Requests++
	if e.usage.ByResource == nil {
		e.usage.ByResource = make(map[string]int64)
	}
	e.usage.ByResource[resource]++
}

// RecordUsage adds consumed tokens and cost to callerID's daily usage.
func (t *Tracker) RecordUsage(callerID, resource string, tokens int64, cost float64) {
	if callerID == "" {
		return
	}
	if tokens < 0 {
		tokens = 0
	}

	e := t.entryFor(callerID, t.now().UTC())
	e.mu.Lock()
	defer e.mu.Unlock()

	e.usage.Tokens += tokens
	e.usage.Cost += cost
}

// Usage returns callerID's usage for the current UTC day.
func (t *Tracker) Usage(callerID string) Usage {
	now := t.now().UTC()
	v, found := t.usage.Get(usageKey(callerID, now))
	if !found {
		return Usage{Day: dayKey(now)}
	}
	return v.(*entry).snapshot()
}

// Snapshot returns today's usage for every caller that has any.
func (t *Tracker) Snapshot() map[string]Usage {
	suffix := "|" + dayKey(t.now().UTC())

	snapshot := make(map[string]Usage)
	for key, item := range t.usage.Items() {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		snapshot[strings.TrimSuffix(key, suffix)] = item.Object.(*entry).snapshot()
	}
	return snapshot
}

// LimitsFor returns the effective limits for callerID.
func (t *Tracker) LimitsFor(callerID string) Limits {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if l, ok := t.overrides[callerID]; ok {
		return l
	}
	return t.defaults
}

// SetDefaults replaces the default limits.
func (t *Tracker) SetDefaults(l Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.defaults = l
}

// SetLimits sets an override for callerID.
func (t *Tracker) SetLimits(callerID string, l Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.overrides[callerID] = l
}

// DeleteLimits removes callerID's override. It reports whether one existed.
func (t *Tracker) DeleteLimits(callerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.overrides[callerID]
	delete(t.overrides, callerID)
	return ok
}

// Overrides returns a copy of all per-caller overrides.
func (t *Tracker) Overrides() map[string]Limits {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Limits, len(t.overrides))
	for caller, l := range t.overrides {
		out[caller] = l
	}
	return out
}

// ReplaceOverrides swaps the full override table, as done on config reload
// or quota store refresh.
func (t *Tracker) ReplaceOverrides(overrides map[string]Limits) {
	next := make(map[string]Limits, len(overrides))
	for caller, l := range overrides {
		next[caller] = l
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.overrides = next
}

// Reset discards all recorded usage. Limits are kept.
func (t *Tracker) Reset() {
	t.usage.Flush()
}

// entryFor returns the usage entry for callerID on now's UTC day, creating
// it if necessary.
func (t *Tracker) entryFor(callerID string, now time.Time) *entry {
	key := usageKey(callerID, now)
	for {
		if v, found := t.usage.Get(key); found {
			return v.(*entry)
		}

		e := &entry{usage: Usage{Day: dayKey(now)}}
		if err := t.usage.Add(key, e, cache.DefaultExpiration); err == nil {
			return e
		}
		// Lost the race to another creator; read theirs.
	}
}

func (e *entry) snapshot() Usage {
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.usage
	if e.usage.ByResource != nil {
		u.ByResource = make(map[string]int64, len(e.usage.ByResource))
		for name, n := range e.usage.ByResource {
			u.ByResource[name] = n
		}
	}
	return u
}

// corruptLimits returns the first ceiling holding an invalid value.
func corruptLimits(l Limits) Kind {
	switch {
	case l.DailyRequests < 0:
		return KindRequests
	case l.DailyTokens < 0:
		return KindTokens
	case l.DailyCost < 0 || math.IsNaN(l.DailyCost):
		return KindCost
	}
	return KindNone
}

// UntilMidnight returns the time remaining until the next UTC midnight.
func UntilMidnight(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(now)
}

func usageKey(callerID string, now time.Time) string {
	return callerID + "|" + dayKey(now)
}

func dayKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
