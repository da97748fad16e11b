// Package health provides liveness, readiness and version endpoints for
// the Sluice admin server.
//
// # Overview
//
// A Checker holds named component checks. Required checks make the system
// unready (503) when they fail; advisory checks only mark it degraded, so
// a coordinator with an open circuit keeps answering admission requests
// while still showing up in probes.
//
// # Endpoints
//
//   - /health/live: the process is running
//   - /health/ready: every required check passes
//   - /version: build information
//
// # Usage
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("coordinator", func(ctx context.Context) error {
//	    if !coord.Running() {
//	        return limits.ErrNotStarted
//	    }
//	    return nil
//	})
//	checker.Mount(mux, health.Paths{
//	    Liveness:  "/health/live",
//	    Readiness: "/health/ready",
//	    Version:   "/version",
//	}, health.VersionInfo{Version: version}, 50)
//
// Probe traffic is rate limited with golang.org/x/time/rate; excess
// requests receive 429 with Retry-After: 1.
package health
