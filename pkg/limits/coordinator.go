package limits

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/sluice/pkg/config"
	"mercator-hq/sluice/pkg/limits/adaptive"
	"mercator-hq/sluice/pkg/limits/breaker"
	"mercator-hq/sluice/pkg/limits/budget"
	"mercator-hq/sluice/pkg/limits/notify"
	"mercator-hq/sluice/pkg/limits/quota"
	"mercator-hq/sluice/pkg/limits/ratelimit"
	"mercator-hq/sluice/pkg/limits/storage"
	"mercator-hq/sluice/pkg/telemetry/tracing"
)

// Concurrency backpressure retry bounds.
const (
	minConcurrencyRetry = 100 * time.Millisecond
	maxConcurrencyRetry = time.Second
)

// Options carries the collaborators of a Coordinator. Every field is
// optional.
type Options struct {
	// Logger receives component logs. Default: slog.Default().
	Logger *slog.Logger

	// Registerer receives the admission metrics. Nil uses a private
	// registry, which keeps independent coordinators from colliding.
	Registerer prometheus.Registerer

	// Notifier receives budget and circuit alerts. Nil logs them and, when
	// a webhook URL is configured, posts them there too.
	Notifier notify.Notifier

	// QuotaStore holds persisted caller quotas. Nil opens the store
	// selected by the storage configuration; that store is closed by Stop.
	QuotaStore storage.QuotaStore

	// Tracer creates a span per admission check. Default: no-op.
	Tracer trace.Tracer

	// Now overrides the clock of every limiter. Default: time.Now.
	Now func() time.Time
}

// Coordinator applies every limiter to each admission request in a fixed
// order and owns the background tasks that maintain them.
//
// # Precedence
//
// CheckAdmission stops at the first denial:
//
//  1. circuit breaker
//  2. daily budget (cost-tracked resources only)
//  3. caller quota (identified callers only)
//  4. adjusted limit = floor(base limit * priority multiplier)
//  5. token bucket (identified callers only)
//  6. global concurrency cap
//  7. sliding windows
//
// Every decision is sampled by the adaptive controller.
//
// # Lifecycle
//
//	c, err := limits.New(cfg.Throttle, limits.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	if err := c.Start(ctx); err != nil {
//	    return err
//	}
//	defer c.Stop()
//
//	guard, outcome := c.Admit(ctx, limits.Request{Resource: "gpt-4o", CallerID: "team-a"})
//	if !outcome.Admitted {
//	    return outcome.Err("gpt-4o")
//	}
//	defer guard.Release()
type Coordinator struct {
	cfg    config.ThrottleConfig
	logger *slog.Logger
	now    func() time.Time
	tracer trace.Tracer

	registry *Registry
	windows  *ratelimit.WindowLimiter
	buckets  *ratelimit.BucketSet
	inflight *ratelimit.ConcurrentLimiter
	breaker  *breaker.Breaker
	quotas   *quota.Tracker
	ledger   *budget.Ledger
	adaptive *adaptive.Controller
	notifier notify.Notifier
	metrics  *Metrics
	gatherer prometheus.Gatherer

	store      storage.QuotaStore
	ownsStore  bool
	storeState storeState

	// quotaMu guards the configured caller overrides, which are merged
	// with stored records on every refresh.
	quotaMu      sync.Mutex
	configQuotas map[string]quota.Limits
	storedQuotas map[string]quota.Limits

	runMu     sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	scheduler *budget.Scheduler

	// alertMu serializes alertWG.Add against alertWG.Wait.
	alertMu sync.Mutex
	alertWG sync.WaitGroup
}

// storeState remembers the last quota store error for health checks.
type storeState struct {
	mu      sync.Mutex
	lastErr error
	lastOK  time.Time
}

// New creates a coordinator from cfg. Defaults are applied to cfg first;
// invalid configuration is reported as ErrInvalidConfig.
func New(cfg config.ThrottleConfig, opts Options) (*Coordinator, error) {
	config.ApplyThrottleDefaults(&cfg)
	if err := config.ValidateThrottle(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("sluice")
	}

	reg := opts.Registerer
	var gatherer prometheus.Gatherer
	if reg == nil {
		private := prometheus.NewRegistry()
		reg, gatherer = private, private
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Coordinator{
		cfg:      cfg,
		logger:   logger.With("component", "coordinator"),
		now:      now,
		tracer:   tracer,
		registry: NewRegistry(cfg.DefaultLimit, cfg.Resources),
		windows: ratelimit.NewWindowLimiter(ratelimit.WindowConfig{
			BurstAllowance: cfg.BurstAllowance,
			Now:            now,
		}),
		buckets:  ratelimit.NewBucketSet(ratelimit.BucketConfig{Now: now}),
		inflight: ratelimit.NewConcurrentLimiter(cfg.MaxConcurrent),
		breaker: breaker.New(breaker.Config{
			WindowSize:     cfg.Breaker.WindowSize,
			ErrorThreshold: cfg.Breaker.ErrorThreshold,
			BaseTrip:       cfg.Breaker.BaseTrip,
			MaxTrip:        cfg.Breaker.MaxTrip,
			Now:            now,
		}),
		metrics:      NewMetrics(reg),
		gatherer:     gatherer,
		configQuotas: toQuotaLimitsMap(cfg.Quota.Callers),
		storedQuotas: make(map[string]quota.Limits),
	}
	c.quotas = quota.NewTracker(quota.Config{
		Defaults: toQuotaLimits(cfg.Quota.Defaults),
		Callers:  c.configQuotas,
		Now:      now,
		Logger:   logger,
	})

	notifier, err := c.buildNotifier(opts.Notifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.notifier = notifier

	location, err := time.LoadLocation(cfg.Budget.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: budget timezone: %v", ErrInvalidConfig, err)
	}
	c.ledger, err = budget.NewLedger(budget.Config{
		DailyBudget:     cfg.Budget.DailyBudget,
		AlertThresholds: cfg.Budget.AlertThresholds,
		Prices:          c.registry,
		Notifier:        notifier,
		Location:        location,
		Now:             now,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	c.adaptive = adaptive.NewController(c.registry, adaptive.Config{
		Interval:     cfg.Adaptive.Interval,
		MinSamples:   cfg.Adaptive.MinSamples,
		ShrinkAbove:  cfg.Adaptive.ShrinkAbove,
		GrowBelow:    cfg.Adaptive.GrowBelow,
		StepFraction: cfg.Adaptive.StepFraction,
		Floor:        cfg.Adaptive.Floor,
		Ceiling:      cfg.Adaptive.Ceiling,
		OnAdjust:     c.onAdjust,
		Now:          now,
		Logger:       logger,
	})

	c.breaker.OnStateChange(c.onBreakerStateChange)

	if opts.QuotaStore != nil {
		c.store = opts.QuotaStore
	} else {
		c.store, err = storage.New(storage.Config{
			Backend:       cfg.Storage.Backend,
			SQLitePath:    cfg.Storage.SQLitePath,
			RedisAddr:     cfg.Storage.RedisAddr,
			RedisPassword: cfg.Storage.RedisPassword,
			RedisDB:       cfg.Storage.RedisDB,
			KeyPrefix:     cfg.Storage.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open quota store: %w", err)
		}
		c.ownsStore = true
	}

	for _, info := range c.registry.Resources() {
		c.metrics.UpdateResourceLimit(info.Name, info.Limit)
	}
	c.metrics.ResetSpend()

	return c, nil
}

// buildNotifier wraps the alert sink so that every alert is also counted.
func (c *Coordinator) buildNotifier(custom notify.Notifier) (notify.Notifier, error) {
	sink := custom
	if sink == nil {
		chain := notify.MultiNotifier{notify.NewLogNotifier(c.logger)}
		if url := c.cfg.Budget.WebhookURL; url != "" {
			webhook, err := notify.NewWebhookNotifier(url, c.cfg.Budget.NotifyTimeout)
			if err != nil {
				return nil, err
			}
			chain = append(chain, webhook)
		}
		sink = chain
	}

	counted := notify.NotifierFunc(func(ctx context.Context, alert notify.Alert) error {
		if alert.Type == notify.AlertBudgetThreshold {
			if th, ok := alert.Details["threshold"].(float64); ok {
				c.metrics.RecordBudgetAlert(th)
			}
		}
		return sink.Notify(ctx, alert)
	})
	return notify.Safe(counted, c.cfg.Budget.NotifyTimeout, c.logger), nil
}

// Start launches the adaptive controller, the budget reset scheduler, the
// sweep loop and the quota store refresh loop. Stored quotas are loaded
// before Start returns; a store failure is logged and retried on the next
// refresh.
func (c *Coordinator) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.running {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)

	if !c.cfg.Adaptive.Disabled {
		if err := c.adaptive.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("failed to start adaptive controller: %w", err)
		}
	}

	scheduler := budget.NewScheduler(c.ledger, c.cfg.Budget.ResetSchedule)
	if err := scheduler.Start(ctx); err != nil {
		c.adaptive.Stop()
		cancel()
		return fmt.Errorf("failed to start budget scheduler: %w", err)
	}
	c.scheduler = scheduler

	c.refreshQuotas(ctx)

	c.wg.Add(2)
	go c.sweepLoop(ctx)
	go c.quotaLoop(ctx)

	c.cancel = cancel
	c.running = true

	c.logger.Info("coordinator started",
		"resources", c.registry.Len(),
		"max_concurrent", c.cfg.MaxConcurrent,
		"daily_budget", c.cfg.Budget.DailyBudget,
		"adaptive", !c.cfg.Adaptive.Disabled,
	)
	return nil
}

// Stop cancels the background tasks, waits for them to exit and closes an
// owned quota store.
func (c *Coordinator) Stop() error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if !c.running {
		return ErrNotStarted
	}

	c.cancel()
	c.adaptive.Stop()
	c.scheduler.Stop()
	c.wg.Wait()
	c.waitAlerts()
	c.running = false

	if c.ownsStore {
		if err := c.store.Close(); err != nil {
			return fmt.Errorf("failed to close quota store: %w", err)
		}
	}

	c.logger.Info("coordinator stopped")
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (c *Coordinator) Running() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.running
}

// CheckAdmission decides whether a request may proceed. It never blocks on
// I/O and never returns an error: denials are reported in the Outcome.
//
// An admitted request is counted against the caller's daily quota but does
// not hold a concurrency slot; use Admit or Acquire for that.
func (c *Coordinator) CheckAdmission(ctx context.Context, req Request) Outcome {
	start := time.Now()

	_, span := c.tracer.Start(ctx, "sluice.CheckAdmission",
		tracing.AdmissionAttributes(req.Resource, string(req.Priority), req.CallerID != ""))
	defer span.End()

	outcome := c.decide(req)

	c.adaptive.Record(req.Resource, !outcome.Admitted)
	if outcome.Admitted {
		c.quotas.RecordRequest(req.CallerID, req.Resource)
	} else {
		tracing.SetDenial(span, string(outcome.Reason), outcome.RetryAfterSeconds())

		c.logger.DebugContext(ctx, "request denied",
			"resource", req.Resource,
			"caller", req.CallerID,
			"reason", string(outcome.Reason),
			"retry_after", outcome.RetryAfter,
		)
	}

	c.metrics.RecordDecision(req.Resource, outcome)
	c.metrics.RecordCheckDuration(time.Since(start).Seconds())
	return outcome
}

// decide applies the limiters in precedence order.
func (c *Coordinator) decide(req Request) Outcome {
	if tripped, retry := c.breaker.Check(req.Resource); tripped {
		return deny(ReasonCircuitOpen, retry)
	}

	if c.ledger.IsCostTracked(req.Resource) {
		if exhausted, retry := c.ledger.Exhausted(); exhausted {
			return deny(ReasonBudgetExceeded, retry)
		}
	}

	if req.CallerID != "" {
		if ok, retry, kind := c.quotas.Check(req.CallerID, req.Resource, req.EstimatedTokens); !ok {
			return deny(quotaReason(kind), retry)
		}
	}

	multiplier := c.multiplier(req.Priority)
	base := c.registry.Limit(req.Resource)
	adjusted := int(math.Floor(float64(base) * multiplier))

	if req.CallerID != "" {
		if ok, retry := c.buckets.TryConsume(req.Resource, req.CallerID, float64(base), multiplier); !ok {
			return deny(ReasonTokenBucketDepleted, retry)
		}
	}

	if c.inflight.Saturated() {
		return deny(ReasonConcurrencyLimit, concurrencyRetry())
	}

	if ok, period, retry := c.windows.Allow(req.Resource, adjusted); !ok {
		return deny(windowReason(period), retry)
	}

	return admit()
}

// multiplier returns the multiplier of a priority, falling back to normal
// for unknown or empty priorities. Names are matched case-insensitively.
func (c *Coordinator) multiplier(p Priority) float64 {
	if parsed, err := ParsePriority(string(p)); err == nil {
		p = parsed
	}
	if m, ok := c.cfg.Multiplier(string(p)); ok {
		return m
	}
	if m, ok := c.cfg.Multiplier(string(PriorityNormal)); ok {
		return m
	}
	return 1
}

// ReportOutcome forwards a call result to the circuit breaker.
func (c *Coordinator) ReportOutcome(resource string, success bool) {
	c.breaker.RecordResult(resource, success)
}

// RecordCost charges a completed call to the ledger and to the caller's
// quota, and returns the cost in USD.
func (c *Coordinator) RecordCost(ctx context.Context, resource, callerID string, inputUnits, outputUnits int64) float64 {
	ctx, span := c.tracer.Start(ctx, "sluice.RecordCost",
		tracing.AdmissionAttributes(resource, "", callerID != ""))
	defer span.End()

	// Alerts outlive the reporting request.
	cost := c.ledger.Record(context.WithoutCancel(ctx), resource, callerID, inputUnits, outputUnits)
	tracing.SetCostAttributes(span, inputUnits, outputUnits, cost)

	tokens := max(inputUnits, 0) + max(outputUnits, 0)
	c.quotas.RecordUsage(callerID, resource, tokens, cost)

	if cost > 0 {
		spend := c.ledger.CurrentSpend()
		c.metrics.UpdateSpend(spend.Global, spend.ByResource)
	}
	return cost
}

// Registry returns the resource table.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Gatherer returns the registry the metrics were registered with, or nil
// if the injected Registerer cannot be gathered.
func (c *Coordinator) Gatherer() prometheus.Gatherer {
	return c.gatherer
}

// TuneNow runs one adaptive pass immediately and returns its adjustments.
func (c *Coordinator) TuneNow() []adaptive.Adjustment {
	return c.adaptive.Tune()
}

func (c *Coordinator) onAdjust(adj adaptive.Adjustment) {
	c.metrics.RecordAdjustment(adj.Resource, string(adj.Direction))
	c.metrics.UpdateResourceLimit(adj.Resource, adj.New)
}

func (c *Coordinator) onBreakerStateChange(resource string, from, to breaker.State) {
	c.metrics.UpdateCircuitOpen(resource, to == breaker.StateOpen)

	if to != breaker.StateOpen {
		c.logger.Info("circuit closed", "resource", resource, "from", from.String())
		return
	}

	status := c.breaker.Status(resource)
	c.logger.Warn("circuit opened",
		"resource", resource,
		"trip_until", status.TripUntil,
		"consecutive_trips", status.ConsecutiveTrips,
	)
	c.dispatchAlert(notify.NewAlert(
		notify.AlertCircuitOpen,
		notify.SeverityWarning,
		fmt.Sprintf("circuit opened for %s", resource),
		map[string]any{
			"resource":          resource,
			"trip_until":        status.TripUntil,
			"consecutive_trips": status.ConsecutiveTrips,
		},
	))
}

// dispatchAlert delivers alert in the background. The breaker reports
// state changes from Guard.Release, which must not wait on a slow sink.
func (c *Coordinator) dispatchAlert(alert notify.Alert) {
	c.alertMu.Lock()
	c.alertWG.Add(1)
	c.alertMu.Unlock()

	go func() {
		defer c.alertWG.Done()
		c.notifier.Notify(context.Background(), alert)
	}()
}

// waitAlerts blocks until every dispatched alert has been delivered.
func (c *Coordinator) waitAlerts() {
	c.alertMu.Lock()
	defer c.alertMu.Unlock()
	c.alertWG.Wait()
}

// sweepLoop evicts idle limiter state on the configured interval.
func (c *Coordinator) sweepLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// sweep runs one eviction pass, recovering from panics so the loop survives.
func (c *Coordinator) sweep() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("sweep panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	windows := c.windows.Sweep(func(resource string) bool {
		return c.inflight.InFlight(resource) > 0
	})
	buckets := c.buckets.Sweep()
	breakers := c.breaker.Sweep()

	active := c.activeResources()
	resources := c.registry.Sweep(func(name string) bool {
		_, ok := active[name]
		return ok
	})
	for _, name := range resources {
		c.metrics.ForgetResource(name)
	}

	if windows+buckets+breakers+len(resources) > 0 {
		c.logger.Debug("evicted idle limiter state",
			"windows", windows,
			"buckets", buckets,
			"breakers", breakers,
			"resources", len(resources),
		)
	}
}

// activeResources returns every resource that still has window, bucket,
// breaker, in-flight or pending adaptive state.
func (c *Coordinator) activeResources() map[string]struct{} {
	active := make(map[string]struct{})
	for name := range c.windows.Snapshot() {
		active[name] = struct{}{}
	}
	for name := range c.buckets.Levels() {
		active[name] = struct{}{}
	}
	for name := range c.breaker.Snapshot() {
		active[name] = struct{}{}
	}
	for name := range c.inflight.Snapshot() {
		active[name] = struct{}{}
	}
	for name := range c.adaptive.PendingByResource() {
		active[name] = struct{}{}
	}
	return active
}

func quotaReason(kind quota.Kind) ReasonCode {
	switch kind {
	case quota.KindTokens:
		return ReasonQuotaTokens
	case quota.KindCost:
		return ReasonQuotaCost
	default:
		return ReasonQuotaRequests
	}
}

func windowReason(period ratelimit.Period) ReasonCode {
	switch period {
	case ratelimit.PeriodMedium:
		return ReasonRateLimitMedium
	case ratelimit.PeriodLong:
		return ReasonRateLimitLong
	default:
		return ReasonRateLimitShort
	}
}

// concurrencyRetry returns a randomized retry delay so that shed callers
// do not return in lockstep.
func concurrencyRetry() time.Duration {
	spread := int64(maxConcurrencyRetry - minConcurrencyRetry)
	return minConcurrencyRetry + time.Duration(rand.Int64N(spread+1))
}
