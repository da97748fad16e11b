package limits

import (
	"context"
	"maps"
	"slices"
	"time"

	"mercator-hq/sluice/pkg/limits/breaker"
	"mercator-hq/sluice/pkg/limits/budget"
	"mercator-hq/sluice/pkg/limits/quota"
	"mercator-hq/sluice/pkg/limits/ratelimit"
)

// Stats is a point-in-time view of every limiter.
type Stats struct {
	Limits       map[string]int                    `json:"limits"`
	Windows      map[string]ratelimit.WindowCounts `json:"windows"`
	Breakers     map[string]breaker.Status         `json:"circuit_breakers"`
	Spend        budget.Spend                      `json:"spend"`
	Buckets      map[string]map[string]float64     `json:"token_buckets"`
	InFlight     int64                             `json:"in_flight"`
	InFlightBy   map[string]int64                  `json:"in_flight_by_resource"`
	MaxInFlight  int64                             `json:"max_concurrent"`
	Quotas       map[string]quota.Usage            `json:"quotas"`
	PendingTune  int                               `json:"adaptive_pending_samples"`
	GeneratedAt  time.Time                         `json:"generated_at"`
	NextReset    time.Time                         `json:"next_budget_reset"`
	BurstAllowed int                               `json:"burst_allowance"`
}

// Health flags.
const (
	FlagCircuitOpen     = "circuit_open"
	FlagBudgetExhausted = "budget_exhausted"
	FlagSaturated       = "concurrency_saturated"
	FlagStoreError      = "quota_store_error"
	FlagNotRunning      = "not_running"
)

// Health statuses.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// Health summarizes conditions an operator should know about. A degraded
// coordinator still answers admission checks.
type Health struct {
	Status        string            `json:"status"`
	Flags         []string          `json:"flags"`
	OpenCircuits  []string          `json:"open_circuits,omitempty"`
	BudgetPercent float64           `json:"budget_percentage"`
	InFlight      int64             `json:"in_flight"`
	Details       map[string]string `json:"details,omitempty"`
}

// Stats returns a snapshot of every limiter.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Limits:       c.registry.Limits(),
		Windows:      c.windows.Snapshot(),
		Breakers:     c.breaker.Snapshot(),
		Spend:        c.ledger.CurrentSpend(),
		Buckets:      c.buckets.Levels(),
		InFlight:     c.inflight.Current(),
		InFlightBy:   c.inflight.Snapshot(),
		MaxInFlight:  c.inflight.Limit(),
		Quotas:       c.quotas.Snapshot(),
		PendingTune:  c.adaptive.Pending(),
		GeneratedAt:  c.now(),
		NextReset:    c.ledger.NextReset(),
		BurstAllowed: c.windows.BurstAllowance(),
	}
}

// HealthCheck reports open circuits, an exhausted budget, a saturated
// concurrency cap and quota store failures.
func (c *Coordinator) HealthCheck(ctx context.Context) Health {
	h := Health{
		Status:   HealthOK,
		Flags:    []string{},
		InFlight: c.inflight.Current(),
		Details:  make(map[string]string),
	}

	if !c.Running() {
		h.Flags = append(h.Flags, FlagNotRunning)
	}

	if open := c.breaker.OpenResources(); len(open) > 0 {
		h.Flags = append(h.Flags, FlagCircuitOpen)
		h.OpenCircuits = open
	}

	spend := c.ledger.CurrentSpend()
	h.BudgetPercent = spend.Percentage
	if exhausted, retry := c.ledger.Exhausted(); exhausted {
		h.Flags = append(h.Flags, FlagBudgetExhausted)
		h.Details[FlagBudgetExhausted] = "resets in " + retry.Round(time.Second).String()
	}

	if c.inflight.Saturated() {
		h.Flags = append(h.Flags, FlagSaturated)
	}

	if err := c.storeError(); err != nil {
		h.Flags = append(h.Flags, FlagStoreError)
		h.Details[FlagStoreError] = err.Error()
	} else if last := c.lastStoreSync(); !last.IsZero() {
		h.Details["quota_store_synced_at"] = last.UTC().Format(time.RFC3339)
	}

	if ctx.Err() != nil {
		h.Details["context"] = ctx.Err().Error()
	}

	if len(h.Flags) > 0 {
		h.Status = HealthDegraded
	}
	return h
}

// ResetStats clears counters, buckets, breakers, spend and quota usage.
// Learned resource limits and quota overrides are kept.
func (c *Coordinator) ResetStats() {
	for _, resource := range c.breaker.OpenResources() {
		c.metrics.UpdateCircuitOpen(resource, false)
	}

	c.windows.Reset()
	c.buckets.Reset()
	c.breaker.Reset()
	c.ledger.Reset()
	c.quotas.Reset()
	c.adaptive.Discard()

	c.metrics.ResetSpend()
	c.logger.Info("limiter statistics reset")
}

func (c *Coordinator) lastStoreSync() time.Time {
	c.storeState.mu.Lock()
	defer c.storeState.mu.Unlock()
	return c.storeState.lastOK
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
