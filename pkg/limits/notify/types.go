package notify

import (
	"context"
	"time"
)

// Severity indicates how urgent an alert is.
type Severity string

const (
	// SeverityInfo is informational; no action required.
	SeverityInfo Severity = "info"

	// SeverityWarning signals an approaching limit.
	SeverityWarning Severity = "warning"

	// SeverityCritical signals an exhausted limit.
	SeverityCritical Severity = "critical"
)

// AlertType categorizes alerts.
type AlertType string

const (
	// AlertBudgetThreshold fires when daily spend crosses a configured
	// fraction of the budget.
	AlertBudgetThreshold AlertType = "budget_threshold"

	// AlertCircuitOpen fires when a resource's circuit breaker trips.
	AlertCircuitOpen AlertType = "circuit_open"
)

// Alert is a single notification emitted by the throttling core.
type Alert struct {
	// ID uniquely identifies the alert.
	ID string `json:"id"`

	// Type categorizes the alert.
	Type AlertType `json:"alert_type"`

	// Severity indicates urgency.
	Severity Severity `json:"severity"`

	// Message is a human-readable summary.
	Message string `json:"message"`

	// Details carries structured context (threshold, spend, budget, ...).
	Details map[string]any `json:"details,omitempty"`

	// Timestamp is when the alert was raised.
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers alerts to an external sink.
//
// Implementations may block; callers that must not be affected by delivery
// failures should wrap them with Safe.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, alert Alert) error

// Notify calls f(ctx, alert).
func (f NotifierFunc) Notify(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}
