package config

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "throttle.default_limit").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateAdmin(&cfg.Admin)...)
	errs = append(errs, validateThrottle("throttle", &cfg.Throttle)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// ValidateThrottle validates a throttle section on its own. Field paths are
// reported relative to "throttle".
func ValidateThrottle(t *ThrottleConfig) error {
	if errs := validateThrottle("throttle", t); len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// validateAdmin validates admin server configuration.
func validateAdmin(cfg *AdminConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "admin.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "admin.listen_address",
			Message: fmt.Sprintf("invalid listen address: %v", err),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "admin.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "admin.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "admin.idle_timeout",
			Message: "idle timeout must be positive",
		})
	}
	if cfg.RateLimit < 0 {
		errs = append(errs, FieldError{
			Field:   "admin.rate_limit",
			Message: "rate limit must be non-negative",
		})
	}
	if cfg.RateLimit > 0 && cfg.RateBurst <= 0 {
		errs = append(errs, FieldError{
			Field:   "admin.rate_burst",
			Message: "rate burst must be positive when rate limit is set",
		})
	}

	return errs
}

// validateThrottle validates the admission engine configuration.
func validateThrottle(prefix string, cfg *ThrottleConfig) []FieldError {
	var errs []FieldError

	if cfg.DefaultLimit <= 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".default_limit",
			Message: "default limit must be positive",
		})
	}
	if cfg.BurstAllowance < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".burst_allowance",
			Message: "burst allowance must be non-negative",
		})
	}
	if cfg.MaxConcurrent < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".max_concurrent",
			Message: "max concurrent must be non-negative",
		})
	}
	if cfg.SweepInterval < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".sweep_interval",
			Message: "sweep interval must be positive",
		})
	}

	for _, name := range sortedKeys(cfg.Resources) {
		rc := cfg.Resources[name]
		field := fmt.Sprintf("%s.resources.%s", prefix, name)
		if name == "" {
			errs = append(errs, FieldError{Field: prefix + ".resources", Message: "resource name cannot be empty"})
		}
		if rc.Limit < 0 {
			errs = append(errs, FieldError{Field: field + ".limit", Message: "limit must be non-negative"})
		}
		if !validAmount(rc.PriceInput) {
			errs = append(errs, FieldError{Field: field + ".price_input", Message: "price must be a non-negative number"})
		}
		if !validAmount(rc.PriceOutput) {
			errs = append(errs, FieldError{Field: field + ".price_output", Message: "price must be a non-negative number"})
		}
	}

	if _, ok := cfg.Priorities["normal"]; len(cfg.Priorities) > 0 && !ok {
		errs = append(errs, FieldError{
			Field:   prefix + ".priorities",
			Message: `priority "normal" must be defined`,
		})
	}
	for _, name := range sortedKeys(cfg.Priorities) {
		if m := cfg.Priorities[name]; !(m > 0) || math.IsInf(m, 0) {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("%s.priorities.%s", prefix, name),
				Message: "multiplier must be a positive number",
			})
		}
	}

	errs = append(errs, validateAdaptive(prefix+".adaptive", &cfg.Adaptive)...)
	errs = append(errs, validateBreaker(prefix+".breaker", &cfg.Breaker)...)
	errs = append(errs, validateBudget(prefix+".budget", &cfg.Budget)...)
	errs = append(errs, validateQuota(prefix+".quota", &cfg.Quota)...)
	errs = append(errs, validateStorage(prefix+".storage", &cfg.Storage)...)

	return errs
}

// validateAdaptive validates adaptive controller configuration.
func validateAdaptive(prefix string, cfg *AdaptiveConfig) []FieldError {
	var errs []FieldError

	if cfg.Interval < 0 {
		errs = append(errs, FieldError{Field: prefix + ".interval", Message: "interval must be positive"})
	}
	if cfg.MinSamples < 0 {
		errs = append(errs, FieldError{Field: prefix + ".min_samples", Message: "min samples must be non-negative"})
	}
	if cfg.ShrinkAbove < 0 || cfg.ShrinkAbove > 1 {
		errs = append(errs, FieldError{Field: prefix + ".shrink_above", Message: "shrink threshold must be between 0.0 and 1.0"})
	}
	if cfg.GrowBelow < 0 || cfg.GrowBelow > 1 {
		errs = append(errs, FieldError{Field: prefix + ".grow_below", Message: "grow threshold must be between 0.0 and 1.0"})
	}
	if cfg.GrowBelow > cfg.ShrinkAbove {
		errs = append(errs, FieldError{Field: prefix + ".grow_below", Message: "grow threshold cannot exceed shrink threshold"})
	}
	if cfg.StepFraction < 0 || cfg.StepFraction >= 1 {
		errs = append(errs, FieldError{Field: prefix + ".step_fraction", Message: "step fraction must be in [0.0, 1.0)"})
	}
	if cfg.Floor < 0 {
		errs = append(errs, FieldError{Field: prefix + ".floor", Message: "floor must be non-negative"})
	}
	if cfg.Ceiling > 0 && cfg.Floor > cfg.Ceiling {
		errs = append(errs, FieldError{Field: prefix + ".floor", Message: "floor cannot exceed ceiling"})
	}

	return errs
}

// validateBreaker validates circuit breaker configuration.
func validateBreaker(prefix string, cfg *BreakerConfig) []FieldError {
	var errs []FieldError

	if cfg.WindowSize < 0 {
		errs = append(errs, FieldError{Field: prefix + ".window_size", Message: "window size must be positive"})
	}
	if cfg.ErrorThreshold < 0 || cfg.ErrorThreshold > 1 {
		errs = append(errs, FieldError{Field: prefix + ".error_threshold", Message: "error threshold must be between 0.0 and 1.0"})
	}
	if cfg.BaseTrip < 0 {
		errs = append(errs, FieldError{Field: prefix + ".base_trip", Message: "base trip must be positive"})
	}
	if cfg.MaxTrip > 0 && cfg.BaseTrip > cfg.MaxTrip {
		errs = append(errs, FieldError{Field: prefix + ".base_trip", Message: "base trip cannot exceed max trip"})
	}

	return errs
}

// validateBudget validates cost ledger configuration.
func validateBudget(prefix string, cfg *BudgetConfig) []FieldError {
	var errs []FieldError

	if !validAmount(cfg.DailyBudget) {
		errs = append(errs, FieldError{Field: prefix + ".daily_budget", Message: "daily budget must be a non-negative number"})
	}

	prev := 0.0
	for i, th := range cfg.AlertThresholds {
		if !(th > 0 && th <= 1) {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("%s.alert_thresholds[%d]", prefix, i),
				Message: "alert threshold must be in (0.0, 1.0]",
			})
			continue
		}
		if th <= prev {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("%s.alert_thresholds[%d]", prefix, i),
				Message: "alert thresholds must be ascending",
			})
		}
		prev = th
	}

	if cfg.ResetSchedule != "" {
		if _, err := cron.ParseStandard(cfg.ResetSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   prefix + ".reset_schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			errs = append(errs, FieldError{
				Field:   prefix + ".timezone",
				Message: fmt.Sprintf("unknown timezone: %v", err),
			})
		}
	}

	if cfg.WebhookURL != "" {
		u, err := url.Parse(cfg.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".webhook_url",
				Message: "webhook URL must be an absolute http(s) URL",
			})
		}
	}

	if cfg.NotifyTimeout < 0 {
		errs = append(errs, FieldError{Field: prefix + ".notify_timeout", Message: "notify timeout must be positive"})
	}

	return errs
}

// validateQuota validates per-caller quota configuration.
func validateQuota(prefix string, cfg *QuotaConfig) []FieldError {
	errs := validateQuotaLimits(prefix+".defaults", &cfg.Defaults)

	for _, caller := range sortedKeys(cfg.Callers) {
		if caller == "" {
			errs = append(errs, FieldError{Field: prefix + ".callers", Message: "caller ID cannot be empty"})
			continue
		}
		l := cfg.Callers[caller]
		errs = append(errs, validateQuotaLimits(fmt.Sprintf("%s.callers.%s", prefix, caller), &l)...)
	}

	return errs
}

// validateQuotaLimits validates one set of daily ceilings.
func validateQuotaLimits(prefix string, l *QuotaLimits) []FieldError {
	var errs []FieldError

	if l.DailyRequests < 0 {
		errs = append(errs, FieldError{Field: prefix + ".daily_requests", Message: "daily requests must be non-negative"})
	}
	if l.DailyTokens < 0 {
		errs = append(errs, FieldError{Field: prefix + ".daily_tokens", Message: "daily tokens must be non-negative"})
	}
	if !validAmount(l.DailyCost) {
		errs = append(errs, FieldError{Field: prefix + ".daily_cost", Message: "daily cost must be a non-negative number"})
	}

	return errs
}

// validateStorage validates quota store configuration.
func validateStorage(prefix string, cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "", "memory":
	case "sqlite":
		if cfg.SQLitePath == "" {
			errs = append(errs, FieldError{Field: prefix + ".sqlite_path", Message: "sqlite path is required for sqlite backend"})
		}
	case "redis":
		if cfg.RedisAddr == "" {
			errs = append(errs, FieldError{Field: prefix + ".redis_addr", Message: "redis address is required for redis backend"})
		}
		if cfg.RedisDB < 0 {
			errs = append(errs, FieldError{Field: prefix + ".redis_db", Message: "redis db must be non-negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   prefix + ".backend",
			Message: fmt.Sprintf("invalid backend %q (must be memory, sqlite, or redis)", cfg.Backend),
		})
	}

	if cfg.RefreshInterval < 0 {
		errs = append(errs, FieldError{Field: prefix + ".refresh_interval", Message: "refresh interval must be positive"})
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn, or error)", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json or text)", cfg.Logging.Format),
		})
	}

	if !cfg.Metrics.Disabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.endpoint",
				Message: "tracing endpoint is required when tracing is enabled",
			})
		}
		validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
		if !validSamplers[cfg.Tracing.Sampler] {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (must be always, never, or ratio)", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.SampleRatio < 0.0 || cfg.Tracing.SampleRatio > 1.0 {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sample_ratio",
				Message: "sample ratio must be between 0.0 and 1.0",
			})
		}
	}

	paths := []struct{ field, path string }{
		{"telemetry.health.liveness_path", cfg.Health.LivenessPath},
		{"telemetry.health.readiness_path", cfg.Health.ReadinessPath},
		{"telemetry.health.version_path", cfg.Health.VersionPath},
	}
	for _, p := range paths {
		if p.path != "" && !strings.HasPrefix(p.path, "/") {
			errs = append(errs, FieldError{Field: p.field, Message: "path must start with /"})
		}
	}
	if cfg.Health.RateLimit < 0 {
		errs = append(errs, FieldError{Field: "telemetry.health.rate_limit", Message: "rate limit must be non-negative"})
	}

	return errs
}

// validAmount reports whether v is a finite, non-negative number.
func validAmount(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// sortedKeys returns map keys in a stable order so errors are reported
// deterministically.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
