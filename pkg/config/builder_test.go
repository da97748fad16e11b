package config

import "time"

// ConfigBuilder provides a fluent API for building test configurations.
type ConfigBuilder struct {
	cfg *Config
}

// NewTestConfig creates a ConfigBuilder with two resources and defaults
// applied.
func NewTestConfig() *ConfigBuilder {
	cfg := &Config{
		Throttle: ThrottleConfig{
			Resources: map[string]ResourceConfig{
				"model-x": {Limit: 10, PriceInput: 10, PriceOutput: 30},
				"model-y": {Limit: 100},
			},
		},
	}
	ApplyDefaults(cfg)
	return &ConfigBuilder{cfg: cfg}
}

// Build returns the configured Config.
func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

func (b *ConfigBuilder) WithListenAddress(addr string) *ConfigBuilder {
	b.cfg.Admin.ListenAddress = addr
	return b
}

func (b *ConfigBuilder) WithResource(name string, rc ResourceConfig) *ConfigBuilder {
	if b.cfg.Throttle.Resources == nil {
		b.cfg.Throttle.Resources = make(map[string]ResourceConfig)
	}
	b.cfg.Throttle.Resources[name] = rc
	return b
}

func (b *ConfigBuilder) WithDailyBudget(budget float64) *ConfigBuilder {
	b.cfg.Throttle.Budget.DailyBudget = budget
	return b
}

func (b *ConfigBuilder) WithCallerQuota(caller string, l QuotaLimits) *ConfigBuilder {
	if b.cfg.Throttle.Quota.Callers == nil {
		b.cfg.Throttle.Quota.Callers = make(map[string]QuotaLimits)
	}
	b.cfg.Throttle.Quota.Callers[caller] = l
	return b
}

func (b *ConfigBuilder) WithStorage(backend string) *ConfigBuilder {
	b.cfg.Throttle.Storage.Backend = backend
	return b
}

func (b *ConfigBuilder) WithSweepInterval(d time.Duration) *ConfigBuilder {
	b.cfg.Throttle.SweepInterval = d
	return b
}

func (b *ConfigBuilder) WithTracing(endpoint string) *ConfigBuilder {
	b.cfg.Telemetry.Tracing.Enabled = true
	b.cfg.Telemetry.Tracing.Endpoint = endpoint
	return b
}

// MinimalConfig returns the smallest valid configuration.
func MinimalConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
