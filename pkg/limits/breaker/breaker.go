package breaker

import (
	"errors"
	"math"
	"sync"
	"time"
)

// State represents the externally visible state of a resource's breaker.
type State int

const (
	// StateClosed lets requests through and counts outcomes.
	StateClosed State = iota

	// StateOpen rejects every check until the trip expires.
	StateOpen

	// StateHalfOpen means the trip has expired but no check has observed it
	// yet; the next Check closes the breaker and clears its counters.
	StateHalfOpen
)

// String returns the state name used in stats and metrics.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by helpers that surface an open breaker as an error.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config contains breaker configuration shared by every resource.
type Config struct {
	// WindowSize is the number of outcomes collected before each evaluation.
	// Default: 20
	WindowSize int

	// ErrorThreshold is the error ratio (0.0-1.0) at or above which the
	// breaker trips.
	// Default: 0.5
	ErrorThreshold float64

	// BaseTrip is the trip duration for the first trip.
	// Default: 30s
	BaseTrip time.Duration

	// MaxTrip caps the exponential trip duration.
	// Default: 5m
	MaxTrip time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Status is a point-in-time view of one resource's breaker.
type Status struct {
	State            string    `json:"state"`
	TripUntil        time.Time `json:"trip_until,omitempty"`
	ConsecutiveTrips int       `json:"consecutive_trips"`
	WindowSuccess    int       `json:"window_success"`
	WindowError      int       `json:"window_error"`
}

// Breaker tracks failure rates per resource and trips resources whose error
// ratio crosses the threshold.
//
// Outcomes are counted in non-overlapping windows of WindowSize observations.
// When a window fills it is evaluated and cleared, whether or not the
// breaker trips. Each trip lasts BaseTrip*2^consecutiveTrips, capped at
// MaxTrip; the trip counter only resets through Reset.
//
// # Thread Safety
//
// Each resource has its own mutex. Check never advances counters; only
// RecordResult does.
type Breaker struct {
	config        Config
	now           func() time.Time
	states        map[string]*state
	mu            sync.RWMutex
	onStateChange func(resource string, from, to State)
}

// state is the per-resource breaker state.
type state struct {
	mu               sync.Mutex
	tripped          bool
	tripUntil        time.Time
	consecutiveTrips int
	windowSuccess    int
	windowError      int
	evicted          bool
}

// New creates a breaker with the given configuration, applying defaults to
// zero values.
func New(cfg Config) *Breaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 0.5
	}
	if cfg.BaseTrip <= 0 {
		cfg.BaseTrip = 30 * time.Second
	}
	if cfg.MaxTrip <= 0 {
		cfg.MaxTrip = 5 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Breaker{
		config: cfg,
		now:    now,
		states: make(map[string]*state),
	}
}

// OnStateChange sets a callback for open/closed transitions. The callback
// runs synchronously after the resource lock is released.
func (b *Breaker) OnStateChange(fn func(resource string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Check reports whether the resource is tripped and, if so, how long until
// the trip expires. An expired trip is cleared here: the breaker closes and
// its window counters reset.
func (b *Breaker) Check(resource string) (bool, time.Duration) {
	b.mu.RLock()
	s, exists := b.states[resource]
	b.mu.RUnlock()

	if !exists {
		return false, 0
	}

	now := b.now()

	s.mu.Lock()
	if !s.tripped {
		s.mu.Unlock()
		return false, 0
	}

	if now.Before(s.tripUntil) {
		retry := s.tripUntil.Sub(now)
		s.mu.Unlock()
		return true, retry
	}

	s.tripped = false
	s.tripUntil = time.Time{}
	s.windowSuccess = 0
	s.windowError = 0
	s.mu.Unlock()

	b.notify(resource, StateOpen, StateClosed)
	return false, 0
}

// RecordResult records the outcome of a call to resource. Outcomes
// reported while the breaker is open are ignored.
func (b *Breaker) RecordResult(resource string, success bool) {
	for {
		s := b.getOrCreate(resource)

		s.mu.Lock()
		if s.evicted {
			s.mu.Unlock()
			continue
		}

		if s.tripped {
			s.mu.Unlock()
			return
		}

		if success {
			s.windowSuccess++
		} else {
			s.windowError++
		}

		total := s.windowSuccess + s.windowError
		if total < b.config.WindowSize {
			s.mu.Unlock()
			return
		}

		ratio := float64(s.windowError) / float64(total)
		s.windowSuccess = 0
		s.windowError = 0

		if ratio < b.config.ErrorThreshold {
			s.mu.Unlock()
			return
		}

		s.tripped = true
		s.tripUntil = b.now().Add(b.tripDuration(s.consecutiveTrips))
		s.consecutiveTrips++
		s.mu.Unlock()

		b.notify(resource, StateClosed, StateOpen)
		return
	}
}

// Status returns the breaker status for a resource.
func (b *Breaker) Status(resource string) Status {
	b.mu.RLock()
	s, exists := b.states[resource]
	b.mu.RUnlock()

	if !exists {
		return Status{State: StateClosed.String()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(b.now())
}

// Snapshot returns the status of every tracked resource.
func (b *Breaker) Snapshot() map[string]Status {
	b.mu.RLock()
	states := make(map[string]*state, len(b.states))
	for name, s := range b.states {
		states[name] = s
	}
	b.mu.RUnlock()

	now := b.now()
	snapshot := make(map[string]Status, len(states))
	for name, s := range states {
		s.mu.Lock()
		snapshot[name] = s.statusLocked(now)
		s.mu.Unlock()
	}
	return snapshot
}

// OpenResources returns the names of resources currently tripped.
func (b *Breaker) OpenResources() []string {
	var open []string
	for name, status := range b.Snapshot() {
		if status.State == StateOpen.String() {
			open = append(open, name)
		}
	}
	return open
}

// Sweep removes closed resources with empty windows and no trip history.
// It returns the number of evicted resources.
func (b *Breaker) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := 0
	for name, s := range b.states {
		s.mu.Lock()
		if !s.tripped && s.consecutiveTrips == 0 && s.windowSuccess == 0 && s.windowError == 0 {
			s.evicted = true
			delete(b.states, name)
			evicted++
		}
		s.mu.Unlock()
	}
	return evicted
}

// Reset clears all breaker state, including consecutive trip counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, s := range b.states {
		s.mu.Lock()
		s.evicted = true
		s.mu.Unlock()
		delete(b.states, name)
	}
}

// tripDuration returns BaseTrip*2^trips capped at MaxTrip.
func (b *Breaker) tripDuration(trips int) time.Duration {
	d := float64(b.config.BaseTrip) * math.Pow(2, float64(trips))
	if d > float64(b.config.MaxTrip) {
		return b.config.MaxTrip
	}
	return time.Duration(d)
}

// getOrCreate returns the state for resource, creating it on first use.
func (b *Breaker) getOrCreate(resource string) *state {
	b.mu.RLock()
	s, exists := b.states[resource]
	b.mu.RUnlock()

	if exists {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if s, exists = b.states[resource]; exists {
		return s
	}

	s = &state{}
	b.states[resource] = s
	return s
}

// notify invokes the state change callback, if any.
func (b *Breaker) notify(resource string, from, to State) {
	b.mu.RLock()
	fn := b.onStateChange
	b.mu.RUnlock()

	if fn != nil {
		fn(resource, from, to)
	}
}

// statusLocked builds a Status. Caller must hold s.mu.
func (s *state) statusLocked(now time.Time) Status {
	st := StateClosed
	if s.tripped {
		st = StateOpen
		if !now.Before(s.tripUntil) {
			st = StateHalfOpen
		}
	}

	status := Status{
		State:            st.String(),
		ConsecutiveTrips: s.consecutiveTrips,
		WindowSuccess:    s.windowSuccess,
		WindowError:      s.windowError,
	}
	if s.tripped {
		status.TripUntil = s.tripUntil
	}
	return status
}
