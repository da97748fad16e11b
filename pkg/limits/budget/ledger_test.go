package budget

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"mercator-hq/sluice/pkg/limits/notify"
)

// recordingNotifier captures delivered alerts.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (r *recordingNotifier) Notify(ctx context.Context, alert notify.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingNotifier) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func (r *recordingNotifier) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = nil
}

func (r *recordingNotifier) Thresholds() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []float64
	for _, a := range r.alerts {
		out = append(out, a.Details["threshold"].(float64))
	}
	return out
}

var testNow = time.Date(2025, 11, 20, 18, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, budget float64, n notify.Notifier) *Ledger {
	t.Helper()

	ledger, err := NewLedger(Config{
		DailyBudget: budget,
		Prices: StaticPrices{
			"model-x": {Input: 10.0, Output: 30.0},
			"free":    {},
		},
		Notifier: n,
		Now:      func() time.Time { return testNow },
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewLedger() error = %v", err)
	}
	return ledger
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// ============================================================================
// Ledger Tests
// ============================================================================

func TestLedger_RecordCost(t *testing.T) {
	ledger := newTestLedger(t, 0, nil)

	cost := ledger.Record(context.Background(), "model-x", "caller-1", 1500, 500)
	// 1.5 * 10 + 0.5 * 30
	if !approxEqual(cost, 30.0) {
		t.Errorf("Expected cost 30.00, got %.4f", cost)
	}

	ledger.Record(context.Background(), "model-x", "", 100, 0)

	spend := ledger.CurrentSpend()
	if !approxEqual(spend.Global, 31.0) {
		t.Errorf("Expected global 31.00, got %.4f", spend.Global)
	}
	if !approxEqual(spend.ByResource["model-x"], 31.0) {
		t.Errorf("Expected resource total 31.00, got %.4f", spend.ByResource["model-x"])
	}
	if !approxEqual(spend.ByCaller["caller-1"], 30.0) {
		t.Errorf("Expected caller total 30.00, got %.4f", spend.ByCaller["caller-1"])
	}
	if _, ok := spend.ByCaller[""]; ok {
		t.Error("Anonymous spend should not be tracked per caller")
	}
}

func TestLedger_FreeAndNegativeUnits(t *testing.T) {
	ledger := newTestLedger(t, 10, nil)

	if cost := ledger.Record(context.Background(), "free", "caller-1", 1000, 1000); cost != 0 {
		t.Errorf("Expected free resource to cost 0, got %.4f", cost)
	}
	if cost := ledger.Record(context.Background(), "model-x", "caller-1", -1000, -1000); cost != 0 {
		t.Errorf("Expected negative units to cost 0, got %.4f", cost)
	}
	if ledger.IsCostTracked("free") {
		t.Error("Expected free resource not to be cost tracked")
	}
	if !ledger.IsCostTracked("model-x") {
		t.Error("Expected priced resource to be cost tracked")
	}
}

func TestLedger_ThresholdCrossedOnce(t *testing.T) {
	n := &recordingNotifier{}
	ledger := newTestLedger(t, 10.0, n)
	ctx := context.Background()

	// $7.40 crosses 50%.
	ledger.Record(ctx, "model-x", "caller-1", 740, 0)
	if got := n.Thresholds(); len(got) != 1 || got[0] != 0.50 {
		t.Fatalf("Expected one 50%% alert, got %v", got)
	}
	n.Reset()

	// $7.40 -> $7.60 crosses 75% exactly once.
	ledger.Record(ctx, "model-x", "caller-1", 20, 0)
	if got := n.Thresholds(); len(got) != 1 || got[0] != 0.75 {
		t.Fatalf("Expected one 75%% alert, got %v", got)
	}

	// Further spend below 90% does not re-fire.
	ledger.Record(ctx, "model-x", "caller-1", 10, 0)
	ledger.Record(ctx, "model-x", "caller-2", 10, 0)
	if n.Count() != 1 {
		t.Errorf("Expected no additional alerts, got %d total", n.Count())
	}
}

func TestLedger_MultipleThresholdsInOneUpdate(t *testing.T) {
	n := &recordingNotifier{}
	ledger := newTestLedger(t, 10.0, n)

	// $9.50 crosses 50%, 75% and 90% at once.
	ledger.Record(context.Background(), "model-x", "caller-1", 950, 0)

	got := n.Thresholds()
	want := []float64{0.50, 0.75, 0.90}
	if len(got) != len(want) {
		t.Fatalf("Expected alerts %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Alert %d: expected %.2f, got %.2f", i, want[i], got[i])
		}
	}

	spend := ledger.CurrentSpend()
	if len(spend.AlertsSent) != 3 {
		t.Errorf("Expected 3 thresholds marked sent, got %v", spend.AlertsSent)
	}
}

func TestLedger_CriticalSeverityAtFullBudget(t *testing.T) {
	n := &recordingNotifier{}
	ledger := newTestLedger(t, 1.0, n)

	ledger.Record(context.Background(), "model-x", "caller-1", 100, 0)

	n.mu.Lock()
	defer n.mu.Unlock()
	last := n.alerts[len(n.alerts)-1]
	if last.Severity != notify.SeverityCritical {
		t.Errorf("Expected critical severity at 100%%, got %s", last.Severity)
	}
	if last.Type != notify.AlertBudgetThreshold {
		t.Errorf("Expected budget threshold alert, got %s", last.Type)
	}
}

func TestLedger_NotifierFailureIsSwallowed(t *testing.T) {
	panicking := notify.NotifierFunc(func(ctx context.Context, alert notify.Alert) error {
		panic("sink exploded")
	})
	ledger := newTestLedger(t, 10.0, panicking)

	cost := ledger.Record(context.Background(), "model-x", "caller-1", 900, 0)
	if !approxEqual(cost, 9.0) {
		t.Errorf("Expected cost 9.00 despite notifier panic, got %.4f", cost)
	}
	if spend := ledger.CurrentSpend(); !approxEqual(spend.Global, 9.0) {
		t.Errorf("Expected global 9.00, got %.4f", spend.Global)
	}
}

func TestLedger_Exhausted(t *testing.T) {
	ledger := newTestLedger(t, 10.0, nil)

	if exhausted, _ := ledger.Exhausted(); exhausted {
		t.Fatal("Expected budget available initially")
	}

	ledger.Record(context.Background(), "model-x", "caller-1", 1000, 0)

	exhausted, retry := ledger.Exhausted()
	if !exhausted {
		t.Fatal("Expected budget exhausted at $10.00")
	}
	// testNow is 18:00 UTC.
	if retry != 6*time.Hour {
		t.Errorf("Expected retry 6h, got %v", retry)
	}
}

func TestLedger_NoBudgetNeverExhausted(t *testing.T) {
	ledger := newTestLedger(t, 0, nil)

	ledger.Record(context.Background(), "model-x", "caller-1", 1_000_000, 0)
	if exhausted, _ := ledger.Exhausted(); exhausted {
		t.Error("Expected no exhaustion without a budget")
	}
}

func TestLedger_Reset(t *testing.T) {
	n := &recordingNotifier{}
	ledger := newTestLedger(t, 10.0, n)
	ctx := context.Background()

	ledger.Record(ctx, "model-x", "caller-1", 600, 0)
	ledger.Reset()

	spend := ledger.CurrentSpend()
	if spend.Global != 0 || len(spend.ByResource) != 0 || len(spend.AlertsSent) != 0 {
		t.Errorf("Expected cleared totals, got %+v", spend)
	}

	// Thresholds fire again after a reset.
	ledger.Record(ctx, "model-x", "caller-1", 600, 0)
	if n.Count() != 2 {
		t.Errorf("Expected 50%% alert to fire again after reset, got %d alerts", n.Count())
	}
}

func TestLedger_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"negative budget", Config{DailyBudget: -1}},
		{"NaN budget", Config{DailyBudget: math.NaN()}},
		{"zero threshold", Config{DailyBudget: 1, AlertThresholds: []float64{0}}},
		{"threshold above one", Config{DailyBudget: 1, AlertThresholds: []float64{1.5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLedger(tt.config); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestLedger_Concurrent(t *testing.T) {
	n := &recordingNotifier{}
	ledger := newTestLedger(t, 100.0, n)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ledger.Record(context.Background(), "model-x", "caller-1", 100, 0)
			}
		}()
	}
	wg.Wait()

	spend := ledger.CurrentSpend()
	if !approxEqual(spend.Global, 1000.0) {
		t.Errorf("Expected global 1000.00, got %.4f", spend.Global)
	}
	if n.Count() != 4 {
		t.Errorf("Expected each of 4 thresholds to fire once, got %d", n.Count())
	}
}

// ============================================================================
// Scheduler Tests
// ============================================================================

func TestScheduler_StartStop(t *testing.T) {
	ledger := newTestLedger(t, 10.0, nil)
	sched := NewScheduler(ledger, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !sched.IsRunning() {
		t.Error("Expected scheduler to be running")
	}
	if err := sched.Start(ctx); err == nil {
		t.Error("Expected error on second Start")
	}

	next := ledger.NextReset()
	if next.Hour() != 0 || next.Minute() != 0 {
		t.Errorf("Expected next reset at midnight, got %v", next)
	}

	sched.Stop()
	if sched.IsRunning() {
		t.Error("Expected scheduler to be stopped")
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	ledger := newTestLedger(t, 10.0, nil)
	sched := NewScheduler(ledger, "not a cron")

	if err := sched.Start(context.Background()); err == nil {
		t.Error("Expected error for invalid schedule")
	}
}

func TestScheduler_RunResetClearsTotals(t *testing.T) {
	ledger := newTestLedger(t, 10.0, nil)
	sched := NewScheduler(ledger, DefaultResetSchedule)

	ledger.Record(context.Background(), "model-x", "caller-1", 500, 0)
	sched.runReset()

	if spend := ledger.CurrentSpend(); spend.Global != 0 {
		t.Errorf("Expected totals cleared by reset job, got %.4f", spend.Global)
	}
}
