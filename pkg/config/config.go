package config

import "time"

// Config is the root configuration structure for Mercator Sluice.
// It contains all configuration sections for the admin server, the
// throttling engine and telemetry.
type Config struct {
	// Admin contains the admin HTTP server configuration.
	Admin AdminConfig `yaml:"admin"`

	// Throttle contains the admission-control engine configuration.
	Throttle ThrottleConfig `yaml:"throttle"`

	// Telemetry contains logging, metrics, tracing and health configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AdminConfig contains configuration for the admin HTTP server.
type AdminConfig struct {
	// ListenAddress is the address and port the admin server listens on.
	// Format: "host:port" (e.g., "127.0.0.1:8090", "0.0.0.0:8090")
	// Default: "127.0.0.1:8090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 60s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is how long to wait for in-flight requests on shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RateLimit is the sustained request rate allowed on the /v1 API,
	// in requests per second. Zero disables the guard.
	// Default: 200
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the burst size for RateLimit.
	// Default: 400
	RateBurst int `yaml:"rate_burst"`
}

// ThrottleConfig configures the admission coordinator and every limiter it
// owns.
type ThrottleConfig struct {
	// DefaultLimit is the base limit, in requests per 60 seconds, applied to
	// resources that are not listed in Resources.
	// Default: 60
	DefaultLimit int `yaml:"default_limit"`

	// BurstAllowance is the number of extra requests permitted in the
	// short (60s) window on top of the adjusted limit.
	// Default: 5
	BurstAllowance int `yaml:"burst_allowance"`

	// MaxConcurrent caps the number of in-flight requests across all
	// resources. Zero disables the cap.
	// Default: 100
	MaxConcurrent int `yaml:"max_concurrent"`

	// SweepInterval is how often idle windows, buckets and breakers are
	// evicted.
	// Default: 5m
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Resources maps resource names to their base limit and unit prices.
	Resources map[string]ResourceConfig `yaml:"resources"`

	// Priorities maps priority names to limit multipliers.
	// Default: low=0.5, normal=1.0, high=1.5, critical=2.0
	Priorities map[string]float64 `yaml:"priorities"`

	// Adaptive contains the adaptive limit controller configuration.
	Adaptive AdaptiveConfig `yaml:"adaptive"`

	// Breaker contains the circuit breaker configuration.
	Breaker BreakerConfig `yaml:"breaker"`

	// Budget contains the global daily budget configuration.
	Budget BudgetConfig `yaml:"budget"`

	// Quota contains the per-caller daily quota configuration.
	Quota QuotaConfig `yaml:"quota"`

	// Storage selects where per-caller quota overrides are persisted.
	Storage StorageConfig `yaml:"storage"`
}

// ResourceConfig describes one limited resource.
type ResourceConfig struct {
	// Limit is the base number of requests allowed per 60 seconds.
	// Default: throttle.default_limit
	Limit int `yaml:"limit"`

	// PriceInput is the USD price per 1000 input units.
	// A resource with both prices zero is not cost-tracked.
	PriceInput float64 `yaml:"price_input"`

	// PriceOutput is the USD price per 1000 output units.
	PriceOutput float64 `yaml:"price_output"`
}

// AdaptiveConfig configures the adaptive limit controller.
type AdaptiveConfig struct {
	// Disabled turns the tuning loop off. Limits then stay at their
	// configured values.
	// Default: false
	Disabled bool `yaml:"disabled"`

	// Interval is the time between tuning passes.
	// Default: 60s
	Interval time.Duration `yaml:"interval"`

	// MinSamples is the number of decisions a resource needs in one pass
	// before its limit is adjusted.
	// Default: 20
	MinSamples int `yaml:"min_samples"`

	// ShrinkAbove is the deny rate above which the limit shrinks.
	// Default: 0.10
	ShrinkAbove float64 `yaml:"shrink_above"`

	// GrowBelow is the deny rate below which the limit grows.
	// Default: 0.01
	GrowBelow float64 `yaml:"grow_below"`

	// StepFraction is the relative size of each adjustment.
	// Default: 0.10
	StepFraction float64 `yaml:"step_fraction"`

	// Floor is the smallest limit the controller sets.
	// Default: 10
	Floor int `yaml:"floor"`

	// Ceiling is the largest limit the controller sets.
	// Default: 1000
	Ceiling int `yaml:"ceiling"`
}

// BreakerConfig configures the per-resource circuit breaker.
type BreakerConfig struct {
	// WindowSize is the number of outcomes evaluated together.
	// Default: 20
	WindowSize int `yaml:"window_size"`

	// ErrorThreshold is the error ratio (0.0-1.0) that trips the breaker.
	// Default: 0.5
	ErrorThreshold float64 `yaml:"error_threshold"`

	// BaseTrip is the duration of the first trip. It doubles on each
	// consecutive trip.
	// Default: 30s
	BaseTrip time.Duration `yaml:"base_trip"`

	// MaxTrip caps the trip duration.
	// Default: 5m
	MaxTrip time.Duration `yaml:"max_trip"`
}

// BudgetConfig configures the cost ledger.
type BudgetConfig struct {
	// DailyBudget is the global spend ceiling in USD. Zero disables budget
	// enforcement and alerting.
	// Default: 0
	DailyBudget float64 `yaml:"daily_budget"`

	// AlertThresholds are ascending fractions of DailyBudget that raise an
	// alert once per day when crossed.
	// Default: [0.5, 0.75, 0.9, 1.0]
	AlertThresholds []float64 `yaml:"alert_thresholds"`

	// ResetSchedule is the cron expression for the daily spend reset.
	// Default: "0 0 * * *"
	ResetSchedule string `yaml:"reset_schedule"`

	// Timezone is the IANA zone the reset schedule runs in.
	// Default: "UTC"
	Timezone string `yaml:"timezone"`

	// WebhookURL receives budget alerts as JSON in addition to the log.
	// Optional.
	WebhookURL string `yaml:"webhook_url"`

	// NotifyTimeout bounds each alert delivery.
	// Default: 5s
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
}

// QuotaConfig configures per-caller daily quotas.
type QuotaConfig struct {
	// Defaults apply to every identified caller without an override.
	// Zero fields mean unlimited.
	Defaults QuotaLimits `yaml:"defaults"`

	// Callers holds per-caller overrides keyed by caller ID.
	Callers map[string]QuotaLimits `yaml:"callers"`
}

// QuotaLimits holds one caller's daily ceilings.
type QuotaLimits struct {
	// DailyRequests is the maximum number of admitted requests per UTC day.
	DailyRequests int64 `yaml:"daily_requests"`

	// DailyTokens is the maximum number of tokens per UTC day.
	DailyTokens int64 `yaml:"daily_tokens"`

	// DailyCost is the maximum spend in USD per UTC day.
	DailyCost float64 `yaml:"daily_cost"`
}

// StorageConfig selects the quota store backend.
type StorageConfig struct {
	// Backend is the storage type.
	// Options: "memory", "sqlite", "redis"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// SQLitePath is the database file for the sqlite backend.
	// Default: "data/quotas.db"
	SQLitePath string `yaml:"sqlite_path"`

	// RedisAddr is the server address for the redis backend.
	// Example: "localhost:6379"
	RedisAddr string `yaml:"redis_addr"`

	// RedisPassword authenticates to the redis server.
	RedisPassword string `yaml:"redis_password"`

	// RedisDB selects the redis database.
	// Default: 0
	RedisDB int `yaml:"redis_db"`

	// KeyPrefix namespaces redis keys.
	// Default: "sluice:quota"
	KeyPrefix string `yaml:"key_prefix"`

	// RefreshInterval is how often stored overrides are reloaded.
	// Default: 1m
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// TelemetryConfig contains configuration for logging, metrics, tracing and
// health checks.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactCallers masks caller IDs that look like API keys.
	// Default: false
	RedactCallers bool `yaml:"redact_callers"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Disabled removes the Prometheus endpoint from the admin server.
	// Default: false
	Disabled bool `yaml:"disabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "mercator-sluice"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS for the OTLP connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health/live"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/health/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// VersionPath is the path for the version information endpoint.
	// Default: "/version"
	VersionPath string `yaml:"version_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`

	// RateLimit caps probe requests per second. Zero disables the guard.
	// Default: 50
	RateLimit float64 `yaml:"rate_limit"`
}

// Multiplier returns the configured multiplier for a priority name and
// whether the name is known.
func (t *ThrottleConfig) Multiplier(priority string) (float64, bool) {
	m, ok := t.Priorities[priority]
	return m, ok
}

// ResourceLimit returns the base limit for resource, falling back to
// DefaultLimit for unlisted resources or resources without a limit.
func (t *ThrottleConfig) ResourceLimit(resource string) int {
	if rc, ok := t.Resources[resource]; ok && rc.Limit > 0 {
		return rc.Limit
	}
	return t.DefaultLimit
}
