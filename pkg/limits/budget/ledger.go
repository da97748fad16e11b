package budget

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"mercator-hq/sluice/pkg/limits/notify"
)

// Ledger keeps running spend totals and raises budget alerts.
//
// Global, per-resource and per-caller totals are updated together under a
// single mutex so that a snapshot is always internally consistent.
//
// # Alert Thresholds
//
// After every update the global total is compared against each threshold.
// A threshold fires at most once between resets, and every threshold
// crossed by a single update fires. Alerts are delivered after the lock is
// released.
type Ledger struct {
	config   Config
	notifier notify.Notifier
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.Mutex
	global     float64
	byResource map[string]float64
	byCaller   map[string]float64
	alertsSent map[int]bool
	lastReset  time.Time
	nextReset  func() time.Time
}

// NewLedger creates a cost ledger.
//
// Example:
//
//	ledger := NewLedger(Config{
//	    DailyBudget: 10.00,
//	    Prices: StaticPrices{"gpt-4o": {Input: 2.50, Output: 10.00}},
//	    Notifier: notify.NewLogNotifier(logger),
//	})
func NewLedger(config Config) (*Ledger, error) {
	if config.DailyBudget < 0 || math.IsNaN(config.DailyBudget) {
		return nil, fmt.Errorf("daily budget must be non-negative, got %v", config.DailyBudget)
	}

	if len(config.AlertThresholds) == 0 {
		config.AlertThresholds = DefaultAlertThresholds
	}
	thresholds := append([]float64(nil), config.AlertThresholds...)
	sort.Float64s(thresholds)
	for _, th := range thresholds {
		if th <= 0 || th > 1 || math.IsNaN(th) {
			return nil, fmt.Errorf("alert threshold must be in (0, 1], got %v", th)
		}
	}
	config.AlertThresholds = thresholds

	if config.Prices == nil {
		config.Prices = StaticPrices{}
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "budget")

	return &Ledger{
		config:     config,
		notifier:   notify.Safe(config.Notifier, 0, logger),
		now:        now,
		logger:     logger,
		byResource: make(map[string]float64),
		byCaller:   make(map[string]float64),
		alertsSent: make(map[int]bool),
		lastReset:  now(),
	}, nil
}

// Record adds the cost of a completed call and returns it.
//
// Negative unit counts are treated as zero. Anonymous callers (empty
// callerID) count toward the global and resource totals only.
func (l *Ledger) Record(ctx context.Context, resource, callerID string, inputUnits, outputUnits int64) float64 {
	if inputUnits < 0 {
		inputUnits = 0
	}
	if outputUnits < 0 {
		outputUnits = 0
	}

	cost := l.config.Prices.Price(resource).Cost(inputUnits, outputUnits)
	if cost == 0 {
		return 0
	}

	l.mu.Lock()
	l.global += cost
	l.byResource[resource] += cost
	if callerID != "" {
		l.byCaller[callerID] += cost
	}
	global := l.global
	fired := l.crossedLocked()
	l.mu.Unlock()

	for _, th := range fired {
		l.alert(ctx, th, global)
	}
	return cost
}

// Exhausted reports whether the daily budget is used up and, if so, how
// long until the next reset. NaN spend is treated as exhausted.
func (l *Ledger) Exhausted() (bool, time.Duration) {
	if l.config.DailyBudget == 0 {
		return false, 0
	}

	l.mu.Lock()
	global := l.global
	l.mu.Unlock()

	if !math.IsNaN(global) && global < l.config.DailyBudget {
		return false, 0
	}

	retry := l.NextReset().Sub(l.now())
	if retry < time.Second {
		retry = time.Second
	}
	return true, retry
}

// CurrentSpend returns a snapshot of the running totals.
func (l *Ledger) CurrentSpend() Spend {
	l.mu.Lock()
	defer l.mu.Unlock()

	spend := Spend{
		Global:      l.global,
		ByResource:  make(map[string]float64, len(l.byResource)),
		ByCaller:    make(map[string]float64, len(l.byCaller)),
		DailyBudget: l.config.DailyBudget,
		AlertsSent:  []float64{},
		LastReset:   l.lastReset,
	}
	for name, v := range l.byResource {
		spend.ByResource[name] = v
	}
	for name, v := range l.byCaller {
		spend.ByCaller[name] = v
	}
	for i, th := range l.config.AlertThresholds {
		if l.alertsSent[i] {
			spend.AlertsSent = append(spend.AlertsSent, th)
		}
	}
	if l.config.DailyBudget > 0 {
		spend.Percentage = l.global / l.config.DailyBudget
	}
	return spend
}

// Reset clears every total and the fired thresholds.
func (l *Ledger) Reset() {
	l.mu.Lock()
	previous := l.global
	l.global = 0
	l.byResource = make(map[string]float64)
	l.byCaller = make(map[string]float64)
	l.alertsSent = make(map[int]bool)
	l.lastReset = l.now()
	l.mu.Unlock()

	l.logger.Info("spend totals reset", "previous_global_usd", previous)
}

// IsCostTracked reports whether resource has a non-zero price, which makes
// it subject to the daily budget.
func (l *Ledger) IsCostTracked(resource string) bool {
	return !l.config.Prices.Price(resource).IsZero()
}

// DailyBudget returns the configured daily budget.
func (l *Ledger) DailyBudget() float64 {
	return l.config.DailyBudget
}

// NextReset returns when totals will next be cleared. Without an attached
// scheduler this is the next midnight in the configured location.
func (l *Ledger) NextReset() time.Time {
	l.mu.Lock()
	next := l.nextReset
	l.mu.Unlock()

	if next != nil {
		if t := next(); !t.IsZero() {
			return t
		}
	}

	now := l.now().In(l.config.Location)
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, l.config.Location)
}

// setNextReset lets a scheduler report its next run time.
func (l *Ledger) setNextReset(fn func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextReset = fn
}

// crossedLocked marks and returns thresholds newly crossed by the current
// global total. Caller must hold l.mu.
func (l *Ledger) crossedLocked() []float64 {
	if l.config.DailyBudget == 0 {
		return nil
	}

	pct := l.global / l.config.DailyBudget
	var fired []float64
	for i, th := range l.config.AlertThresholds {
		if l.alertsSent[i] {
			continue
		}
		if pct >= th || math.IsNaN(pct) {
			l.alertsSent[i] = true
			fired = append(fired, th)
		}
	}
	return fired
}

// alert builds and delivers a threshold alert.
func (l *Ledger) alert(ctx context.Context, threshold, global float64) {
	severity := notify.SeverityWarning
	if threshold >= 1.0 {
		severity = notify.SeverityCritical
	}

	msg := fmt.Sprintf("daily spend reached %.0f%% of budget ($%.2f of $%.2f)",
		threshold*100, global, l.config.DailyBudget)

	l.logger.Warn("budget threshold crossed",
		"threshold", threshold,
		"spend_usd", global,
		"budget_usd", l.config.DailyBudget,
	)

	l.notifier.Notify(ctx, notify.NewAlert(notify.AlertBudgetThreshold, severity, msg, map[string]any{
		"threshold":  threshold,
		"spend_usd":  global,
		"budget_usd": l.config.DailyBudget,
	}))
}
