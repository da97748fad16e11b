package limits

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/sluice/pkg/config"
	"mercator-hq/sluice/pkg/limits/quota"
)

// TestIntegration_EndToEnd runs the complete flow from admission to cost
// recording against a running coordinator with a SQLite quota store.
func TestIntegration_EndToEnd(t *testing.T) {
	cfg := testThrottleConfig()
	cfg.Resources["model-x"] = config.ResourceConfig{Limit: 50, PriceInput: 2.5, PriceOutput: 10}
	cfg.Budget.DailyBudget = 100
	cfg.Quota.Defaults = config.QuotaLimits{DailyRequests: 1000}
	cfg.Storage = config.StorageConfig{
		Backend:    "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "quotas.db"),
	}

	reg := prometheus.NewRegistry()
	c, err := New(cfg, Options{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer: reg,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Simulate 10 requests
	for i := 0; i < 10; i++ {
		guard, outcome := c.Admit(ctx, Request{
			Resource:        "model-x",
			CallerID:        "team-a",
			EstimatedTokens: 1500,
		})
		if !outcome.Admitted {
			t.Fatalf("Request %d: expected admission, got %s", i, outcome.Reason)
		}

		guard.Finish(nil)
		guard.Release()

		// 1000 input and 500 output units: $2.50 + $5.00
		c.RecordCost(ctx, "model-x", "team-a", 1000, 500)
	}

	stats := c.Stats()
	if got := stats.Spend.Global; got < 74.99 || got > 75.01 {
		t.Errorf("Expected global spend $75, got %v", got)
	}
	if got := stats.Spend.ByCaller["team-a"]; got < 74.99 || got > 75.01 {
		t.Errorf("Expected team-a spend $75, got %v", got)
	}
	usage := stats.Quotas["team-a"]
	if usage.Requests != 10 || usage.Tokens != 15000 {
		t.Errorf("Expected 10 requests and 15000 tokens, got %+v", usage)
	}
	if stats.InFlight != 0 {
		t.Errorf("Expected nothing in flight, got %d", stats.InFlight)
	}
	if st := stats.Breakers["model-x"]; st.WindowSuccess != 10 {
		t.Errorf("Expected 10 recorded successes, got %+v", st)
	}

	// Persist an override, restart and confirm it is reloaded
	if err := c.SetQuota(ctx, "team-b", quota.Limits{DailyRequests: 3}); err != nil {
		t.Fatalf("SetQuota() error = %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	restarted, err := New(cfg, Options{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("New() after restart error = %v", err)
	}
	if err := restarted.Start(ctx); err != nil {
		t.Fatalf("Start() after restart error = %v", err)
	}
	defer restarted.Stop()

	if status := restarted.Quota("team-b"); status.Source != "store" || status.Limits.DailyRequests != 3 {
		t.Errorf("Expected persisted quota after restart, got %+v", status)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected metrics on the injected registry")
	}
}

// TestIntegration_GuardReleasesOnCancellation verifies that abandoned
// requests free their slot without touching the breaker.
func TestIntegration_GuardReleasesOnCancellation(t *testing.T) {
	cfg := testThrottleConfig()
	cfg.MaxConcurrent = 1
	c := newTestCoordinator(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)

		guard, outcome := c.Admit(ctx, Request{Resource: "model-y"})
		if !outcome.Admitted {
			t.Errorf("Expected admission, got %s", outcome.Reason)
			return
		}
		defer guard.Release()

		<-ctx.Done()
		guard.Finish(ctx.Err())
	}()

	// Wait until the slot is taken
	deadline := time.Now().Add(time.Second)
	for c.inflight.Current() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if out := check(c, "model-y", ""); out.Reason != ReasonConcurrencyLimit {
		t.Errorf("Expected %s while slot is held, got %s", ReasonConcurrencyLimit, out.Reason)
	}

	cancel()
	<-done

	if got := c.inflight.Current(); got != 0 {
		t.Errorf("Expected slot to be released, got %d in flight", got)
	}
	st := c.breaker.Status("model-y")
	if st.WindowSuccess != 0 || st.WindowError != 0 {
		t.Errorf("Expected no breaker outcome for a cancelled call, got %+v", st)
	}
}

// TestIntegration_GuardOutcomes covers every way a guard can end.
func TestIntegration_GuardOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		finish      func(g *Guard)
		wantSuccess int
		wantError   int
	}{
		{"success", func(g *Guard) { g.Success() }, 1, 0},
		{"failure", func(g *Guard) { g.Failure() }, 0, 1},
		{"finish nil", func(g *Guard) { g.Finish(nil) }, 1, 0},
		{"finish error", func(g *Guard) { g.Finish(errors.New("upstream 500")) }, 0, 1},
		{"finish canceled", func(g *Guard) { g.Finish(context.Canceled) }, 0, 0},
		{"no outcome", func(g *Guard) {}, 0, 0},
		{"last outcome wins", func(g *Guard) { g.Failure(); g.Success() }, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator(t, testThrottleConfig())

			g := c.Acquire(context.Background(), "model-y")
			tt.finish(g)
			g.Release()
			g.Release()

			st := c.breaker.Status("model-y")
			if st.WindowSuccess != tt.wantSuccess || st.WindowError != tt.wantError {
				t.Errorf("Expected %d/%d success/error, got %d/%d",
					tt.wantSuccess, tt.wantError, st.WindowSuccess, st.WindowError)
			}
			if got := c.inflight.Current(); got != 0 {
				t.Errorf("Expected 0 in flight after double release, got %d", got)
			}
		})
	}
}

// TestIntegration_DeniedAdmitHasNoGuard verifies that denied requests do
// not take a slot.
func TestIntegration_DeniedAdmitHasNoGuard(t *testing.T) {
	c := newTestCoordinator(t, testThrottleConfig())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		c.ReportOutcome("model-y", false)
	}

	guard, outcome := c.Admit(ctx, Request{Resource: "model-y"})
	if outcome.Admitted || guard != nil {
		t.Fatalf("Expected denial without guard, got %+v / %v", outcome, guard)
	}
	guard.Release() // nil-safe

	var limitErr *LimitError
	if err := outcome.Err("model-y"); !errors.As(err, &limitErr) || limitErr.Type != ReasonCircuitOpen {
		t.Errorf("Expected circuit LimitError, got %v", err)
	}
	if c.inflight.Current() != 0 {
		t.Errorf("Expected 0 in flight, got %d", c.inflight.Current())
	}
}

// TestIntegration_ConcurrentMixedLoad exercises every limiter from many
// goroutines at once.
func TestIntegration_ConcurrentMixedLoad(t *testing.T) {
	cfg := testThrottleConfig()
	cfg.Resources["model-x"] = config.ResourceConfig{Limit: 100, PriceInput: 1}
	cfg.Budget.DailyBudget = 1000
	cfg.Quota.Defaults = config.QuotaLimits{DailyRequests: 50}
	c := newTestCoordinator(t, cfg)
	ctx := context.Background()

	callers := []string{"a", "b", "c", "d"}
	resources := []string{"model-x", "model-y", "model-z"}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				req := Request{
					Resource: resources[(i+j)%len(resources)],
					CallerID: callers[i%len(callers)],
					Priority: PriorityHigh,
				}
				guard, outcome := c.Admit(ctx, req)
				if !outcome.Admitted {
					continue
				}
				c.RecordCost(ctx, req.Resource, req.CallerID, 10, 10)
				guard.Finish(nil)
				guard.Release()
			}
		}(i)
	}
	wg.Wait()

	// Check and record are separate steps, so a caller may overshoot its
	// quota by at most its own concurrency (10 goroutines each).
	stats := c.Stats()
	for _, caller := range callers {
		if got := stats.Quotas[caller].Requests; got > 60 {
			t.Errorf("Caller %s exceeded its daily quota: %d requests", caller, got)
		}
	}
	if stats.InFlight != 0 {
		t.Errorf("Expected nothing in flight, got %d", stats.InFlight)
	}
}
