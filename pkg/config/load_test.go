package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testConfigYAML = `
admin:
  listen_address: "0.0.0.0:9000"
  read_timeout: "20s"

throttle:
  default_limit: 30
  burst_allowance: 3
  max_concurrent: 50
  resources:
    model-x:
      limit: 10
      price_input: 10
      price_output: 30
    model-y:
      price_input: 0.5
  priorities:
    low: 0.25
    normal: 1.0
    high: 2.0
  breaker:
    window_size: 40
  budget:
    daily_budget: 10.0
    alert_thresholds: [0.8, 1.0]
  quota:
    defaults:
      daily_requests: 1000
    callers:
      team-a:
        daily_requests: 2
        daily_cost: 5.5
  storage:
    backend: sqlite
    sqlite_path: "/tmp/quotas.db"

telemetry:
  logging:
    level: "debug"
    format: "text"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Admin.ListenAddress != "0.0.0.0:9000" {
		t.Errorf("expected listen address %q, got %q", "0.0.0.0:9000", cfg.Admin.ListenAddress)
	}
	if cfg.Admin.ReadTimeout != 20*time.Second {
		t.Errorf("expected read timeout %v, got %v", 20*time.Second, cfg.Admin.ReadTimeout)
	}
	if cfg.Admin.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("expected default write timeout %v, got %v", DefaultWriteTimeout, cfg.Admin.WriteTimeout)
	}

	th := cfg.Throttle
	if th.DefaultLimit != 30 || th.BurstAllowance != 3 || th.MaxConcurrent != 50 {
		t.Errorf("unexpected throttle values: limit=%d burst=%d concurrent=%d",
			th.DefaultLimit, th.BurstAllowance, th.MaxConcurrent)
	}

	modelX := th.Resources["model-x"]
	if modelX.Limit != 10 || modelX.PriceInput != 10 || modelX.PriceOutput != 30 {
		t.Errorf("unexpected model-x config: %+v", modelX)
	}
	if got := th.Resources["model-y"].Limit; got != 30 {
		t.Errorf("expected model-y to inherit default limit 30, got %d", got)
	}

	if m, _ := th.Multiplier("high"); m != 2.0 {
		t.Errorf("expected high multiplier 2.0, got %v", m)
	}
	if th.Breaker.WindowSize != 40 {
		t.Errorf("expected breaker window 40, got %d", th.Breaker.WindowSize)
	}
	if th.Breaker.ErrorThreshold != DefaultBreakerErrorThreshold {
		t.Errorf("expected default error threshold, got %v", th.Breaker.ErrorThreshold)
	}
	if th.Budget.DailyBudget != 10.0 || len(th.Budget.AlertThresholds) != 2 {
		t.Errorf("unexpected budget config: %+v", th.Budget)
	}

	teamA, ok := th.Quota.Callers["team-a"]
	if !ok {
		t.Fatal("expected team-a quota override")
	}
	if teamA.DailyRequests != 2 || teamA.DailyCost != 5.5 {
		t.Errorf("unexpected team-a quota: %+v", teamA)
	}
	if th.Quota.Defaults.DailyRequests != 1000 {
		t.Errorf("expected default daily requests 1000, got %d", th.Quota.Defaults.DailyRequests)
	}
	if th.Storage.Backend != "sqlite" || th.Storage.SQLitePath != "/tmp/quotas.db" {
		t.Errorf("unexpected storage config: %+v", th.Storage)
	}

	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected logging level %q, got %q", "debug", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist in chain, got %v", err)
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "throttle:\n  default_limit: [unclosed\n"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "throttle:\n  default_limit: -5\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var validationErr ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError in chain, got %T: %v", err, err)
	}
	if validationErr.Errors[0].Field != "throttle.default_limit" {
		t.Errorf("expected throttle.default_limit error, got %v", validationErr.Errors)
	}
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("failed to load empty config: %v", err)
	}
	if cfg.Throttle.DefaultLimit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, cfg.Throttle.DefaultLimit)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, testConfigYAML)

	t.Setenv("SLUICE_ADMIN_LISTEN_ADDRESS", "127.0.0.1:7000")
	t.Setenv("SLUICE_THROTTLE_DEFAULT_LIMIT", "90")
	t.Setenv("SLUICE_THROTTLE_SWEEP_INTERVAL", "30s")
	t.Setenv("SLUICE_THROTTLE_ADAPTIVE_DISABLED", "true")
	t.Setenv("SLUICE_THROTTLE_BUDGET_DAILY_BUDGET", "25.5")
	t.Setenv("SLUICE_THROTTLE_QUOTA_DAILY_TOKENS", "50000")
	t.Setenv("SLUICE_TELEMETRY_LOGGING_LEVEL", "warn")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Admin.ListenAddress != "127.0.0.1:7000" {
		t.Errorf("expected listen address override, got %q", cfg.Admin.ListenAddress)
	}
	if cfg.Throttle.DefaultLimit != 90 {
		t.Errorf("expected default limit 90, got %d", cfg.Throttle.DefaultLimit)
	}
	if cfg.Throttle.SweepInterval != 30*time.Second {
		t.Errorf("expected sweep interval 30s, got %v", cfg.Throttle.SweepInterval)
	}
	if !cfg.Throttle.Adaptive.Disabled {
		t.Error("expected adaptive controller to be disabled")
	}
	if cfg.Throttle.Budget.DailyBudget != 25.5 {
		t.Errorf("expected daily budget 25.5, got %v", cfg.Throttle.Budget.DailyBudget)
	}
	if cfg.Throttle.Quota.Defaults.DailyTokens != 50000 {
		t.Errorf("expected daily tokens 50000, got %d", cfg.Throttle.Quota.Defaults.DailyTokens)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("expected logging level warn, got %q", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	path := writeConfig(t, testConfigYAML)

	t.Setenv("SLUICE_THROTTLE_DEFAULT_LIMIT", "lots")
	t.Setenv("SLUICE_ADMIN_READ_TIMEOUT", "soon")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Throttle.DefaultLimit != 30 {
		t.Errorf("expected file value 30 to be kept, got %d", cfg.Throttle.DefaultLimit)
	}
	if cfg.Admin.ReadTimeout != 20*time.Second {
		t.Errorf("expected file value 20s to be kept, got %v", cfg.Admin.ReadTimeout)
	}
}

func TestLoadConfigWithEnvOverrides_RevalidatesOverrides(t *testing.T) {
	path := writeConfig(t, testConfigYAML)
	t.Setenv("SLUICE_THROTTLE_STORAGE_BACKEND", "etcd")

	_, err := LoadConfigWithEnvOverrides(path)
	if err == nil {
		t.Fatal("expected validation error after override")
	}
	if !strings.Contains(err.Error(), "after environment overrides") {
		t.Errorf("unexpected error: %v", err)
	}
}

func BenchmarkLoadConfig(b *testing.B) {
	path := filepath.Join(b.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0644); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := LoadConfig(path); err != nil {
			b.Fatal(err)
		}
	}
}
