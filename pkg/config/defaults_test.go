package config

import (
	"reflect"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	// Admin defaults
	if cfg.Admin.ListenAddress != DefaultListenAddress {
		t.Errorf("expected listen address %q, got %q", DefaultListenAddress, cfg.Admin.ListenAddress)
	}
	if cfg.Admin.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("expected shutdown timeout %v, got %v", DefaultShutdownTimeout, cfg.Admin.ShutdownTimeout)
	}

	// Throttle defaults
	th := cfg.Throttle
	if th.DefaultLimit != 60 {
		t.Errorf("expected default limit 60, got %d", th.DefaultLimit)
	}
	if th.BurstAllowance != 5 {
		t.Errorf("expected burst allowance 5, got %d", th.BurstAllowance)
	}
	if th.MaxConcurrent != 100 {
		t.Errorf("expected max concurrent 100, got %d", th.MaxConcurrent)
	}
	if !reflect.DeepEqual(th.Priorities, DefaultPriorities()) {
		t.Errorf("expected default priorities, got %v", th.Priorities)
	}
	if th.Adaptive.MinSamples != 20 || th.Adaptive.Floor != 10 || th.Adaptive.Ceiling != 1000 {
		t.Errorf("unexpected adaptive defaults: %+v", th.Adaptive)
	}
	if th.Breaker.WindowSize != 20 || th.Breaker.ErrorThreshold != 0.5 {
		t.Errorf("unexpected breaker defaults: %+v", th.Breaker)
	}
	if th.Breaker.BaseTrip != 30*time.Second || th.Breaker.MaxTrip != 5*time.Minute {
		t.Errorf("unexpected breaker trip defaults: %+v", th.Breaker)
	}
	if !reflect.DeepEqual(th.Budget.AlertThresholds, []float64{0.5, 0.75, 0.9, 1.0}) {
		t.Errorf("unexpected alert thresholds: %v", th.Budget.AlertThresholds)
	}
	if th.Budget.ResetSchedule != "0 0 * * *" {
		t.Errorf("expected reset schedule %q, got %q", "0 0 * * *", th.Budget.ResetSchedule)
	}
	if th.Budget.Timezone != "UTC" {
		t.Errorf("expected timezone UTC, got %q", th.Budget.Timezone)
	}
	if th.Storage.Backend != "memory" {
		t.Errorf("expected storage backend memory, got %q", th.Storage.Backend)
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level != DefaultLoggingLevel {
		t.Errorf("expected logging level %q, got %q", DefaultLoggingLevel, cfg.Telemetry.Logging.Level)
	}
	if cfg.Telemetry.Metrics.Path != "/metrics" {
		t.Errorf("expected metrics path /metrics, got %q", cfg.Telemetry.Metrics.Path)
	}
	if cfg.Telemetry.Health.ReadinessPath != "/health/ready" {
		t.Errorf("expected readiness path /health/ready, got %q", cfg.Telemetry.Health.ReadinessPath)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Throttle: ThrottleConfig{
			DefaultLimit:   25,
			BurstAllowance: 2,
			Priorities:     map[string]float64{"normal": 1, "vip": 3},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Throttle.DefaultLimit != 25 {
		t.Errorf("expected default limit 25, got %d", cfg.Throttle.DefaultLimit)
	}
	if cfg.Throttle.BurstAllowance != 2 {
		t.Errorf("expected burst allowance 2, got %d", cfg.Throttle.BurstAllowance)
	}
	if len(cfg.Throttle.Priorities) != 2 {
		t.Errorf("expected configured priorities to be kept, got %v", cfg.Throttle.Priorities)
	}
}

func TestApplyDefaults_ResourceLimitInheritsDefault(t *testing.T) {
	cfg := &Config{
		Throttle: ThrottleConfig{
			DefaultLimit: 40,
			Resources: map[string]ResourceConfig{
				"model-x": {PriceInput: 1},
				"model-y": {Limit: 5},
			},
		},
	}
	ApplyDefaults(cfg)

	if got := cfg.Throttle.Resources["model-x"].Limit; got != 40 {
		t.Errorf("expected inherited limit 40, got %d", got)
	}
	if got := cfg.Throttle.Resources["model-y"].Limit; got != 5 {
		t.Errorf("expected explicit limit 5, got %d", got)
	}
	if got := cfg.Throttle.ResourceLimit("unknown"); got != 40 {
		t.Errorf("expected fallback limit 40, got %d", got)
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	cfg1 := &Config{}
	ApplyDefaults(cfg1)

	cfg2 := &Config{}
	ApplyDefaults(cfg2)
	ApplyDefaults(cfg2)

	if !reflect.DeepEqual(cfg1, cfg2) {
		t.Error("ApplyDefaults is not idempotent")
	}
}

func TestThrottleConfig_Multiplier(t *testing.T) {
	cfg := MinimalConfig()

	tests := []struct {
		priority string
		want     float64
		ok       bool
	}{
		{"low", 0.5, true},
		{"normal", 1.0, true},
		{"high", 1.5, true},
		{"critical", 2.0, true},
		{"urgent", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.priority, func(t *testing.T) {
			got, ok := cfg.Throttle.Multiplier(tt.priority)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Multiplier(%q) = (%v, %v), want (%v, %v)", tt.priority, got, ok, tt.want, tt.ok)
			}
		})
	}
}
