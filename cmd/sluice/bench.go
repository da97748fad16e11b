package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"math/rand/v2"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"mercator-hq/sluice/pkg/cli"
	"mercator-hq/sluice/pkg/config"
	"mercator-hq/sluice/pkg/limits"
)

// latencySampleEvery keeps one latency sample per this many checks.
const latencySampleEvery = 8

var benchFlags struct {
	duration     time.Duration
	concurrency  int
	resources    []string
	callers      int
	priority     string
	inputTokens  int64
	outputTokens int64
	failureRate  float64
	useStorage   bool
	progress     bool
	format       string
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Load test an in-process coordinator",
	Long: `Run concurrent admission checks against a coordinator built from the
configuration file and report decisions by reason and check latency.

Admitted requests record a cost and report an outcome, so budgets, quotas
and circuit breakers all take part. Quota storage is replaced by an
in-memory store unless --use-storage is set.

When --config is not given and config.yaml does not exist, built-in
defaults are used.

Examples:
  # Ten seconds, 32 workers, default resources
  sluice bench --duration 10s --concurrency 32

  # Two resources, 100 identified callers, 5% upstream failures
  sluice bench --resource gpt-4o --resource claude --callers 100 --failure-rate 0.05

  # Machine-readable results
  sluice bench --format json`,
	RunE: runBenchCmd,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().DurationVar(&benchFlags.duration, "duration", 5*time.Second, "test duration")
	benchCmd.Flags().IntVar(&benchFlags.concurrency, "concurrency", 16, "concurrent workers")
	benchCmd.Flags().StringSliceVar(&benchFlags.resources, "resource", nil, "resource to check (repeatable; default: configured resources)")
	benchCmd.Flags().IntVar(&benchFlags.callers, "callers", 0, "number of distinct callers (0 = anonymous)")
	benchCmd.Flags().StringVar(&benchFlags.priority, "priority", "normal", "request priority: low, normal, high, critical")
	benchCmd.Flags().Int64Var(&benchFlags.inputTokens, "input-tokens", 500, "input units recorded per admitted request")
	benchCmd.Flags().Int64Var(&benchFlags.outputTokens, "output-tokens", 250, "output units recorded per admitted request")
	benchCmd.Flags().Float64Var(&benchFlags.failureRate, "failure-rate", 0, "fraction of admitted requests reported as failures")
	benchCmd.Flags().BoolVar(&benchFlags.useStorage, "use-storage", false, "use the configured quota store")
	benchCmd.Flags().BoolVar(&benchFlags.progress, "progress", false, "draw a progress bar on stderr")
	benchCmd.Flags().StringVar(&benchFlags.format, "format", "text", "output format: text, json")
}

// benchOptions parameterizes one load test.
type benchOptions struct {
	Duration     time.Duration
	Concurrency  int
	Resources    []string
	Callers      int
	Priority     limits.Priority
	InputTokens  int64
	OutputTokens int64
	FailureRate  float64
	Progress     *cli.Progress
	Logger       *slog.Logger
}

// latencySummary holds check latency percentiles in microseconds.
type latencySummary struct {
	P50  float64 `json:"p50_us"`
	P95  float64 `json:"p95_us"`
	P99  float64 `json:"p99_us"`
	Max  float64 `json:"max_us"`
	Mean float64 `json:"mean_us"`
}

// benchResult is the outcome of a load test.
type benchResult struct {
	Duration    time.Duration    `json:"-"`
	DurationSec float64          `json:"duration_seconds"`
	Concurrency int              `json:"concurrency"`
	Checks      int64            `json:"checks"`
	Admitted    int64            `json:"admitted"`
	Denied      int64            `json:"denied"`
	ByReason    map[string]int64 `json:"denied_by_reason"`
	Throughput  float64          `json:"checks_per_second"`
	Latency     latencySummary   `json:"latency"`
	SpendUSD    float64          `json:"spend_usd"`
	Limits      map[string]int   `json:"final_limits"`
}

func (r *benchResult) WriteText(w io.Writer) error {
	fmt.Fprintln(w, "Results:")
	fmt.Fprintln(w, "--------")
	fmt.Fprintf(w, "Checks:          %d total, %d admitted, %d denied\n", r.Checks, r.Admitted, r.Denied)
	fmt.Fprintf(w, "Duration:        %.1fs (%d workers)\n", r.DurationSec, r.Concurrency)
	fmt.Fprintf(w, "Throughput:      %.0f checks/s\n", r.Throughput)
	fmt.Fprintf(w, "Spend:           $%.4f\n", r.SpendUSD)

	if len(r.ByReason) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Denials:")
		for _, reason := range slices.Sorted(maps.Keys(r.ByReason)) {
			n := r.ByReason[reason]
			fmt.Fprintf(w, "  %-28s %d (%.1f%%)\n", reason, n, float64(n)/float64(r.Checks)*100)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Check latency:")
	fmt.Fprintf(w, "  Mean:    %.1fµs\n", r.Latency.Mean)
	fmt.Fprintf(w, "  p50:     %.1fµs\n", r.Latency.P50)
	fmt.Fprintf(w, "  p95:     %.1fµs\n", r.Latency.P95)
	fmt.Fprintf(w, "  p99:     %.1fµs\n", r.Latency.P99)
	fmt.Fprintf(w, "  Max:     %.1fµs\n", r.Latency.Max)

	if len(r.Limits) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Final limits:")
		for _, name := range slices.Sorted(maps.Keys(r.Limits)) {
			fmt.Fprintf(w, "  %-28s %d/min\n", name, r.Limits[name])
		}
	}
	return nil
}

func runBenchCmd(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(benchFlags.format)
	if err != nil {
		return err
	}
	priority, err := limits.ParsePriority(benchFlags.priority)
	if err != nil {
		return err
	}
	if benchFlags.concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if benchFlags.failureRate < 0 || benchFlags.failureRate > 1 {
		return fmt.Errorf("failure-rate must be between 0 and 1")
	}

	cfg, err := loadBenchConfig(cfgFile, cmd.Flags().Changed("config"))
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	if !benchFlags.useStorage {
		cfg.Storage = config.StorageConfig{Backend: "memory"}
	}

	logLevel := "warn"
	if verbose {
		logLevel = "debug"
	}
	logger, err := newLogger(config.LoggingConfig{Level: logLevel, Format: "text"})
	if err != nil {
		return err
	}

	resources := benchFlags.resources
	if len(resources) == 0 {
		resources = slices.Sorted(maps.Keys(cfg.Resources))
	}
	if len(resources) == 0 {
		resources = []string{"bench-resource"}
	}

	opts := benchOptions{
		Duration:     benchFlags.duration,
		Concurrency:  benchFlags.concurrency,
		Resources:    resources,
		Callers:      benchFlags.callers,
		Priority:     priority,
		InputTokens:  benchFlags.inputTokens,
		OutputTokens: benchFlags.outputTokens,
		FailureRate:  benchFlags.failureRate,
		Logger:       logger,
	}
	if benchFlags.progress {
		opts.Progress = cli.NewProgress(os.Stderr, opts.Duration)
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	result, err := runBench(ctx, cfg, opts)
	if err != nil {
		return cli.NewCommandError("bench", err)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), result)
}

// loadBenchConfig returns the throttle section of path. A missing default
// config file yields built-in defaults.
func loadBenchConfig(path string, explicit bool) (config.ThrottleConfig, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err == nil {
		return cfg.Throttle, nil
	}
	if explicit || !errors.Is(err, fs.ErrNotExist) {
		return config.ThrottleConfig{}, err
	}

	var t config.ThrottleConfig
	config.ApplyThrottleDefaults(&t)
	return t, nil
}

// benchWorker accumulates results for one goroutine.
type benchWorker struct {
	admitted  int64
	byReason  map[string]int64
	latencies []time.Duration
}

// runBench drives a fresh coordinator from opts.Concurrency goroutines until
// opts.Duration elapses or ctx is cancelled.
func runBench(ctx context.Context, cfg config.ThrottleConfig, opts benchOptions) (*benchResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	coord, err := limits.New(cfg, limits.Options{
		Logger:     logger,
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		return nil, err
	}
	if err := coord.Start(ctx); err != nil {
		return nil, err
	}
	defer coord.Stop()

	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	callers := make([]string, opts.Callers)
	for i := range callers {
		callers[i] = "caller-" + strconv.Itoa(i)
	}

	var total atomic.Int64
	if opts.Progress != nil {
		opts.Progress.Start()
		go func() {
			ticker := time.NewTicker(200 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					opts.Progress.Update(total.Load())
				}
			}
		}()
	}

	workers := make([]*benchWorker, opts.Concurrency)
	start := time.Now()

	var wg sync.WaitGroup
	for i := range workers {
		w := &benchWorker{byReason: make(map[string]int64)}
		workers[i] = w

		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for n := id; ctx.Err() == nil; n += opts.Concurrency {
				req := limits.Request{
					Resource:        opts.Resources[n%len(opts.Resources)],
					Priority:        opts.Priority,
					EstimatedTokens: int(opts.InputTokens + opts.OutputTokens),
				}
				if len(callers) > 0 {
					req.CallerID = callers[n%len(callers)]
				}

				checkStart := time.Now()
				guard, outcome := coord.Admit(ctx, req)
				if n%latencySampleEvery == 0 {
					w.latencies = append(w.latencies, time.Since(checkStart))
				}
				total.Add(1)

				if !outcome.Admitted {
					w.byReason[string(outcome.Reason)]++
					continue
				}
				w.admitted++

				if opts.FailureRate > 0 && rand.Float64() < opts.FailureRate {
					guard.Failure()
				} else {
					guard.Success()
				}
				guard.Release()
				coord.RecordCost(ctx, req.Resource, req.CallerID, opts.InputTokens, opts.OutputTokens)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	if opts.Progress != nil {
		opts.Progress.Finish(total.Load())
	}

	result := &benchResult{
		Duration:    elapsed,
		DurationSec: elapsed.Seconds(),
		Concurrency: opts.Concurrency,
		ByReason:    make(map[string]int64),
	}

	var latencies []time.Duration
	for _, w := range workers {
		result.Admitted += w.admitted
		for reason, n := range w.byReason {
			result.ByReason[reason] += n
			result.Denied += n
		}
		latencies = append(latencies, w.latencies...)
	}
	result.Checks = result.Admitted + result.Denied
	if elapsed > 0 {
		result.Throughput = float64(result.Checks) / elapsed.Seconds()
	}
	result.Latency = summarizeLatencies(latencies)

	stats := coord.Stats()
	result.SpendUSD = stats.Spend.Global
	result.Limits = make(map[string]int, len(opts.Resources))
	for _, r := range opts.Resources {
		result.Limits[r] = stats.Limits[r]
	}

	return result, nil
}

func summarizeLatencies(latencies []time.Duration) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}

	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}

	us := func(d time.Duration) float64 { return float64(d.Nanoseconds()) / 1000 }
	at := func(p float64) time.Duration {
		return sorted[min(int(float64(len(sorted))*p), len(sorted)-1)]
	}

	return latencySummary{
		P50:  us(at(0.50)),
		P95:  us(at(0.95)),
		P99:  us(at(0.99)),
		Max:  us(sorted[len(sorted)-1]),
		Mean: us(sum / time.Duration(len(sorted))),
	}
}
