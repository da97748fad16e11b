package budget

import (
	"log/slog"
	"time"

	"mercator-hq/sluice/pkg/limits/notify"
)

// DefaultAlertThresholds are the fractions of the daily budget at which
// alerts fire when none are configured.
var DefaultAlertThresholds = []float64{0.50, 0.75, 0.90, 1.00}

// Price is the unit price of a resource in USD per 1000 units.
type Price struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
}

// IsZero reports whether the resource is free.
func (p Price) IsZero() bool {
	return p.Input == 0 && p.Output == 0
}

// Cost returns the USD cost of the given unit counts.
func (p Price) Cost(inputUnits, outputUnits int64) float64 {
	return float64(inputUnits)/1000*p.Input + float64(outputUnits)/1000*p.Output
}

// PriceTable resolves a resource's unit prices.
type PriceTable interface {
	Price(resource string) Price
}

// StaticPrices is a fixed PriceTable.
type StaticPrices map[string]Price

// Price returns the price for resource, or zero if unknown.
func (s StaticPrices) Price(resource string) Price {
	return s[resource]
}

// Config contains ledger configuration.
type Config struct {
	// DailyBudget is the global spend ceiling in USD per day.
	// Zero disables budget enforcement and alerting.
	DailyBudget float64

	// AlertThresholds are ascending fractions (0.0-1.0] of DailyBudget.
	// Default: 0.50, 0.75, 0.90, 1.00
	AlertThresholds []float64

	// Prices resolves per-resource unit prices.
	Prices PriceTable

	// Notifier receives threshold alerts. It is always wrapped so that
	// delivery failures never reach Record.
	Notifier notify.Notifier

	// Location is the time zone of the daily boundary. Default: UTC.
	Location *time.Location

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time

	// Logger for ledger events.
	Logger *slog.Logger
}

// Spend is a snapshot of the running totals.
type Spend struct {
	// Global is the total spend since the last reset in USD.
	Global float64 `json:"global"`

	// ByResource is spend per resource.
	ByResource map[string]float64 `json:"by_resource"`

	// ByCaller is spend per identified caller.
	ByCaller map[string]float64 `json:"by_caller"`

	// DailyBudget is the configured ceiling (0 = none).
	DailyBudget float64 `json:"daily_budget"`

	// Percentage is Global/DailyBudget (0 when no budget is set).
	Percentage float64 `json:"percentage"`

	// AlertsSent lists thresholds already fired since the last reset.
	AlertsSent []float64 `json:"alerts_sent"`

	// LastReset is when totals were last cleared.
	LastReset time.Time `json:"last_reset"`
}
