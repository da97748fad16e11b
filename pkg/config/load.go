package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention SLUICE_SECTION_FIELD (e.g., SLUICE_ADMIN_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Values that fail to parse are ignored.
func applyEnvOverrides(cfg *Config) {
	// Admin overrides
	envString("SLUICE_ADMIN_LISTEN_ADDRESS", &cfg.Admin.ListenAddress)
	envDuration("SLUICE_ADMIN_READ_TIMEOUT", &cfg.Admin.ReadTimeout)
	envDuration("SLUICE_ADMIN_WRITE_TIMEOUT", &cfg.Admin.WriteTimeout)
	envDuration("SLUICE_ADMIN_SHUTDOWN_TIMEOUT", &cfg.Admin.ShutdownTimeout)
	envFloat("SLUICE_ADMIN_RATE_LIMIT", &cfg.Admin.RateLimit)

	// Throttle overrides
	t := &cfg.Throttle
	envInt("SLUICE_THROTTLE_DEFAULT_LIMIT", &t.DefaultLimit)
	envInt("SLUICE_THROTTLE_BURST_ALLOWANCE", &t.BurstAllowance)
	envInt("SLUICE_THROTTLE_MAX_CONCURRENT", &t.MaxConcurrent)
	envDuration("SLUICE_THROTTLE_SWEEP_INTERVAL", &t.SweepInterval)
	envBool("SLUICE_THROTTLE_ADAPTIVE_DISABLED", &t.Adaptive.Disabled)
	envDuration("SLUICE_THROTTLE_ADAPTIVE_INTERVAL", &t.Adaptive.Interval)
	envInt("SLUICE_THROTTLE_BREAKER_WINDOW_SIZE", &t.Breaker.WindowSize)
	envFloat("SLUICE_THROTTLE_BREAKER_ERROR_THRESHOLD", &t.Breaker.ErrorThreshold)
	envFloat("SLUICE_THROTTLE_BUDGET_DAILY_BUDGET", &t.Budget.DailyBudget)
	envString("SLUICE_THROTTLE_BUDGET_RESET_SCHEDULE", &t.Budget.ResetSchedule)
	envString("SLUICE_THROTTLE_BUDGET_TIMEZONE", &t.Budget.Timezone)
	envString("SLUICE_THROTTLE_BUDGET_WEBHOOK_URL", &t.Budget.WebhookURL)
	envInt64("SLUICE_THROTTLE_QUOTA_DAILY_REQUESTS", &t.Quota.Defaults.DailyRequests)
	envInt64("SLUICE_THROTTLE_QUOTA_DAILY_TOKENS", &t.Quota.Defaults.DailyTokens)
	envFloat("SLUICE_THROTTLE_QUOTA_DAILY_COST", &t.Quota.Defaults.DailyCost)
	envString("SLUICE_THROTTLE_STORAGE_BACKEND", &t.Storage.Backend)
	envString("SLUICE_THROTTLE_STORAGE_SQLITE_PATH", &t.Storage.SQLitePath)
	envString("SLUICE_THROTTLE_STORAGE_REDIS_ADDR", &t.Storage.RedisAddr)
	envString("SLUICE_THROTTLE_STORAGE_REDIS_PASSWORD", &t.Storage.RedisPassword)
	envInt("SLUICE_THROTTLE_STORAGE_REDIS_DB", &t.Storage.RedisDB)

	// Telemetry overrides
	envString("SLUICE_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("SLUICE_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("SLUICE_TELEMETRY_METRICS_DISABLED", &cfg.Telemetry.Metrics.Disabled)
	envString("SLUICE_TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("SLUICE_TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("SLUICE_TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("SLUICE_TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envInt64(key string, dst *int64) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}
