// Package metrics exposes the Prometheus registry of a Sluice process.
//
// Limiter metrics (decisions, spend, circuit state, adaptive adjustments)
// are defined in package limits and registered on the registry returned
// by NewRegistry; this package only adds runtime collectors and the HTTP
// handler.
package metrics
