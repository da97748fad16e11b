// Sluice is an admission-control engine for scarce, metered resources
// such as LLM model endpoints.
//
// It decides whether each request may proceed right now, combining:
//   - Nested sliding-window rate limits per resource
//   - Token buckets per caller, scaled by priority
//   - Per-caller daily quotas for requests, tokens and cost
//   - A global daily cost budget with threshold alerts
//   - Circuit breakers driven by reported outcomes
//   - Adaptive tuning of limits toward a target deny rate
//
// Usage:
//
//	# Start the admin server with the default configuration file
//	sluice run
//
//	# Start with a custom configuration file
//	sluice run --config /etc/sluice/config.yaml
//
//	# Validate a configuration file
//	sluice check --config config.yaml
//
//	# Load test a coordinator in-process
//	sluice bench --duration 10s --concurrency 32
//
//	# Show version information
//	sluice version
package main

import "os"

func main() {
	os.Exit(Execute())
}
