// Package config provides configuration management for Mercator Sluice.
//
// This package handles loading, validating, and watching configuration from
// YAML files with environment variable overrides. It provides a type-safe
// configuration system with comprehensive validation and sensible defaults.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("sluice.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("sluice.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention SLUICE_SECTION_FIELD.
// For example:
//
//   - SLUICE_ADMIN_LISTEN_ADDRESS overrides admin.listen_address
//   - SLUICE_THROTTLE_DEFAULT_LIMIT overrides throttle.default_limit
//   - SLUICE_THROTTLE_BUDGET_DAILY_BUDGET overrides throttle.budget.daily_budget
//   - SLUICE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Environment variables always take precedence over file-based configuration.
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// There is no package-level configuration. Load a Config at startup and
// pass it, or the relevant section, to the components that need it.
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and hands each
// valid reload to a callback. The run command uses it to refresh quota
// defaults and per-caller overrides without a restart; resource limits are
// owned by the adaptive controller once the engine is running and are not
// reloaded.
//
// # Validation
//
// All configuration is validated automatically during loading. Validation includes:
//
//   - Range validation (e.g., error thresholds must be between 0.0 and 1.0)
//   - Format validation (e.g., cron expressions, time zones, webhook URLs)
//   - Logical validation (e.g., alert thresholds must be ascending)
//
// Validation errors are collected and returned together as a ValidationError
// holding one FieldError per problem.
package config
