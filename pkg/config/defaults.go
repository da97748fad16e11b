package config

import "time"

// Default values for configuration fields.
const (
	// Admin defaults
	DefaultListenAddress   = "127.0.0.1:8090"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultAdminRateLimit  = 200.0
	DefaultAdminRateBurst  = 400

	// Throttle defaults
	DefaultLimit          = 60
	DefaultBurstAllowance = 5
	DefaultMaxConcurrent  = 100
	DefaultSweepInterval  = 5 * time.Minute

	// Adaptive defaults
	DefaultAdaptiveInterval     = 60 * time.Second
	DefaultAdaptiveMinSamples   = 20
	DefaultAdaptiveShrinkAbove  = 0.10
	DefaultAdaptiveGrowBelow    = 0.01
	DefaultAdaptiveStepFraction = 0.10
	DefaultAdaptiveFloor        = 10
	DefaultAdaptiveCeiling      = 1000

	// Breaker defaults
	DefaultBreakerWindowSize     = 20
	DefaultBreakerErrorThreshold = 0.5
	DefaultBreakerBaseTrip       = 30 * time.Second
	DefaultBreakerMaxTrip        = 5 * time.Minute

	// Budget defaults
	DefaultBudgetResetSchedule = "0 0 * * *"
	DefaultBudgetTimezone      = "UTC"
	DefaultBudgetNotifyTimeout = 5 * time.Second

	// Storage defaults
	DefaultStorageBackend         = "memory"
	DefaultStorageSQLitePath      = "data/quotas.db"
	DefaultStorageKeyPrefix       = "sluice:quota"
	DefaultStorageRefreshInterval = time.Minute

	// Telemetry defaults
	DefaultLoggingLevel        = "info"
	DefaultLoggingFormat       = "json"
	DefaultPrometheusPath      = "/metrics"
	DefaultTracingSampler      = "ratio"
	DefaultTracingSampleRatio  = 0.1
	DefaultTracingServiceName  = "mercator-sluice"
	DefaultTracingTimeout      = 10 * time.Second
	DefaultHealthLivenessPath  = "/health/live"
	DefaultHealthReadinessPath = "/health/ready"
	DefaultHealthVersionPath   = "/version"
	DefaultHealthCheckTimeout  = 5 * time.Second
	DefaultHealthRateLimit     = 50.0
)

// DefaultPriorities returns the default priority multipliers.
func DefaultPriorities() map[string]float64 {
	return map[string]float64{
		"low":      0.5,
		"normal":   1.0,
		"high":     1.5,
		"critical": 2.0,
	}
}

// DefaultAlertThresholds returns the default budget alert thresholds.
func DefaultAlertThresholds() []float64 {
	return []float64{0.50, 0.75, 0.90, 1.00}
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Admin defaults
	if cfg.Admin.ListenAddress == "" {
		cfg.Admin.ListenAddress = DefaultListenAddress
	}
	if cfg.Admin.ReadTimeout == 0 {
		cfg.Admin.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Admin.WriteTimeout == 0 {
		cfg.Admin.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Admin.IdleTimeout == 0 {
		cfg.Admin.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Admin.ShutdownTimeout == 0 {
		cfg.Admin.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Admin.RateLimit == 0 {
		cfg.Admin.RateLimit = DefaultAdminRateLimit
	}
	if cfg.Admin.RateBurst == 0 {
		cfg.Admin.RateBurst = DefaultAdminRateBurst
	}

	ApplyThrottleDefaults(&cfg.Throttle)

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}

	health := &cfg.Telemetry.Health
	if health.LivenessPath == "" {
		health.LivenessPath = DefaultHealthLivenessPath
	}
	if health.ReadinessPath == "" {
		health.ReadinessPath = DefaultHealthReadinessPath
	}
	if health.VersionPath == "" {
		health.VersionPath = DefaultHealthVersionPath
	}
	if health.CheckTimeout == 0 {
		health.CheckTimeout = DefaultHealthCheckTimeout
	}
	if health.RateLimit == 0 {
		health.RateLimit = DefaultHealthRateLimit
	}
}

// ApplyThrottleDefaults applies defaults to the throttle section only. It
// is used by callers that build a ThrottleConfig in code.
func ApplyThrottleDefaults(t *ThrottleConfig) {
	if t.DefaultLimit == 0 {
		t.DefaultLimit = DefaultLimit
	}
	if t.BurstAllowance == 0 {
		t.BurstAllowance = DefaultBurstAllowance
	}
	if t.MaxConcurrent == 0 {
		t.MaxConcurrent = DefaultMaxConcurrent
	}
	if t.SweepInterval == 0 {
		t.SweepInterval = DefaultSweepInterval
	}
	if len(t.Priorities) == 0 {
		t.Priorities = DefaultPriorities()
	}

	// Resources without a limit inherit the default limit
	for name, rc := range t.Resources {
		if rc.Limit == 0 {
			rc.Limit = t.DefaultLimit
			t.Resources[name] = rc
		}
	}

	// Adaptive defaults
	a := &t.Adaptive
	if a.Interval == 0 {
		a.Interval = DefaultAdaptiveInterval
	}
	if a.MinSamples == 0 {
		a.MinSamples = DefaultAdaptiveMinSamples
	}
	if a.ShrinkAbove == 0 {
		a.ShrinkAbove = DefaultAdaptiveShrinkAbove
	}
	if a.GrowBelow == 0 {
		a.GrowBelow = DefaultAdaptiveGrowBelow
	}
	if a.StepFraction == 0 {
		a.StepFraction = DefaultAdaptiveStepFraction
	}
	if a.Floor == 0 {
		a.Floor = DefaultAdaptiveFloor
	}
	if a.Ceiling == 0 {
		a.Ceiling = DefaultAdaptiveCeiling
	}

	// Breaker defaults
	b := &t.Breaker
	if b.WindowSize == 0 {
		b.WindowSize = DefaultBreakerWindowSize
	}
	if b.ErrorThreshold == 0 {
		b.ErrorThreshold = DefaultBreakerErrorThreshold
	}
	if b.BaseTrip == 0 {
		b.BaseTrip = DefaultBreakerBaseTrip
	}
	if b.MaxTrip == 0 {
		b.MaxTrip = DefaultBreakerMaxTrip
	}

	// Budget defaults
	if len(t.Budget.AlertThresholds) == 0 {
		t.Budget.AlertThresholds = DefaultAlertThresholds()
	}
	if t.Budget.ResetSchedule == "" {
		t.Budget.ResetSchedule = DefaultBudgetResetSchedule
	}
	if t.Budget.Timezone == "" {
		t.Budget.Timezone = DefaultBudgetTimezone
	}
	if t.Budget.NotifyTimeout == 0 {
		t.Budget.NotifyTimeout = DefaultBudgetNotifyTimeout
	}

	// Storage defaults
	s := &t.Storage
	if s.Backend == "" {
		s.Backend = DefaultStorageBackend
	}
	if s.SQLitePath == "" {
		s.SQLitePath = DefaultStorageSQLitePath
	}
	if s.KeyPrefix == "" {
		s.KeyPrefix = DefaultStorageKeyPrefix
	}
	if s.RefreshInterval == 0 {
		s.RefreshInterval = DefaultStorageRefreshInterval
	}
}
