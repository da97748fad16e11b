package adaptive

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start when the tuning loop is active.
var ErrAlreadyRunning = errors.New("adaptive controller already running")

// LimitTable is the shared table of per-resource limits.
//
// UpdateLimit must apply fn under the same lock that readers of the limit
// use, so a tuning pass never races a limit read on the admission path.
type LimitTable interface {
	UpdateLimit(resource string, fn func(current int) int) (old, updated int, ok bool)
}

// Direction describes a limit change.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Sample is one admission decision.
type Sample struct {
	Resource string
	Denied   bool
	At       time.Time
}

// Adjustment records a limit change made by a tuning pass.
type Adjustment struct {
	Resource  string    `json:"resource"`
	Direction Direction `json:"direction"`
	Old       int       `json:"old"`
	New       int       `json:"new"`
	DenyRate  float64   `json:"deny_rate"`
	Samples   int       `json:"samples"`
}

// Config configures the controller. Zero values take the defaults shown.
type Config struct {
	// Interval between tuning passes.
	// Default: 60s
	Interval time.Duration

	// MinSamples a resource needs in one pass to be tuned.
	// Default: 20
	MinSamples int

	// ShrinkAbove is the deny rate above which a limit shrinks.
	// Default: 0.10
	ShrinkAbove float64

	// GrowBelow is the deny rate below which a limit grows.
	// Default: 0.01
	GrowBelow float64

	// StepFraction is the relative size of each change.
	// Default: 0.10
	StepFraction float64

	// Floor is the smallest limit the controller will set.
	// Default: 10
	Floor int

	// Ceiling is the largest limit the controller will set.
	// Default: 1000
	Ceiling int

	// MaxSampleAge drops samples older than this at tuning time, so a
	// pass run after a long pause does not act on old traffic.
	// Default: 2 * Interval
	MaxSampleAge time.Duration

	// OnAdjust is called after every limit change.
	OnAdjust func(Adjustment)

	Now    func() time.Time
	Logger *slog.Logger
}

// Controller nudges resource limits toward a target deny rate.
//
// The admission path calls Record for every decision. Each tuning pass
// drains the sample buffer, and resources with enough samples have their
// limit shrunk when too many requests were denied, or grown when almost
// none were. The controller never admits or denies anything itself.
type Controller struct {
	config Config
	table  LimitTable
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	samples []Sample

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewController creates a controller writing to table.
func NewController(table LimitTable, cfg Config) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 20
	}
	if cfg.ShrinkAbove <= 0 {
		cfg.ShrinkAbove = 0.10
	}
	if cfg.GrowBelow <= 0 {
		cfg.GrowBelow = 0.01
	}
	if cfg.StepFraction <= 0 {
		cfg.StepFraction = 0.10
	}
	if cfg.Floor <= 0 {
		cfg.Floor = 10
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = 1000
	}
	if cfg.MaxSampleAge <= 0 {
		cfg.MaxSampleAge = 2 * cfg.Interval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		config: cfg,
		table:  table,
		now:    now,
		logger: logger.With("component", "adaptive"),
	}
}

// Record appends a decision sample.
func (c *Controller) Record(resource string, denied bool) {
	s := Sample{Resource: resource, Denied: denied, At: c.now()}

	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.mu.Unlock()
}

// Pending returns the number of samples waiting for the next pass.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

// PendingByResource returns the number of pending samples per resource.
func (c *Controller) PendingByResource() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := make(map[string]int)
	for _, s := range c.samples {
		counts[s.Resource]++
	}
	return counts
}

// Discard drops pending samples without tuning and returns how many were
// dropped.
func (c *Controller) Discard() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.samples)
	c.samples = nil
	return n
}

// Tune runs one tuning pass and returns the changes it made.
func (c *Controller) Tune() []Adjustment {
	c.mu.Lock()
	drained := c.samples
	c.samples = nil
	c.mu.Unlock()

	cutoff := c.now().Add(-c.config.MaxSampleAge)

	type tally struct{ total, denied int }
	byResource := make(map[string]*tally)
	stale := 0
	for _, s := range drained {
		if s.At.Before(cutoff) {
			stale++
			continue
		}
		t, ok := byResource[s.Resource]
		if !ok {
			t = &tally{}
			byResource[s.Resource] = t
		}
		t.total++
		if s.Denied {
			t.denied++
		}
	}
	if stale > 0 {
		c.logger.Debug("dropped stale samples", "count", stale)
	}

	var adjustments []Adjustment
	for resource, t := range byResource {
		if t.total < c.config.MinSamples {
			continue
		}

		rate := float64(t.denied) / float64(t.total)
		var dir Direction
		switch {
		case rate > c.config.ShrinkAbove:
			dir = DirectionDown
		case rate < c.config.GrowBelow:
			dir = DirectionUp
		default:
			continue
		}

		old, updated, ok := c.table.UpdateLimit(resource, func(current int) int {
			return c.next(current, dir)
		})
		if !ok || old == updated {
			continue
		}

		adj := Adjustment{
			Resource:  resource,
			Direction: dir,
			Old:       old,
			New:       updated,
			DenyRate:  rate,
			Samples:   t.total,
		}
		adjustments = append(adjustments, adj)

		c.logger.Info("adjusted resource limit",
			"resource", resource,
			"direction", string(dir),
			"old_limit", old,
			"new_limit", updated,
			"deny_rate", rate,
			"samples", t.total,
		)

		if c.config.OnAdjust != nil {
			c.config.OnAdjust(adj)
		}
	}

	return adjustments
}

// next computes the limit after one step in dir.
func (c *Controller) next(current int, dir Direction) int {
	step := int(math.Round(float64(current) * c.config.StepFraction))
	if step < 1 {
		step = 1
	}

	switch dir {
	case DirectionDown:
		if current <= c.config.Floor {
			return current
		}
		return max(current-step, c.config.Floor)
	case DirectionUp:
		if current >= c.config.Ceiling {
			return current
		}
		return min(current+step, c.config.Ceiling)
	}
	return current
}

// Start launches the tuning loop. It runs until ctx is cancelled or Stop
// is called.
func (c *Controller) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.loop(ctx, c.done)

	c.logger.Info("adaptive controller started", "interval", c.config.Interval)
	return nil
}

// Stop cancels the tuning loop and waits for it to exit.
func (c *Controller) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if !c.running {
		return
	}

	c.cancel()
	<-c.done
	c.running = false
	c.logger.Info("adaptive controller stopped")
}

func (c *Controller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-ctx.Done():
			return
		}
	}
}

// tick runs one pass, recovering from panics so the loop survives.
func (c *Controller) tick() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("adaptive tuning pass panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	c.Tune()
}
