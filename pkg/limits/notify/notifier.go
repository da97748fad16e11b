package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// NewAlert builds an alert with a fresh ID and timestamp.
func NewAlert(alertType AlertType, severity Severity, message string, details map[string]any) Alert {
	return Alert{
		ID:        uuid.New().String(),
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// LogNotifier writes alerts to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs alerts at a level matching
// their severity.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// Notify logs the alert.
func (n *LogNotifier) Notify(ctx context.Context, alert Alert) error {
	level := slog.LevelInfo
	switch alert.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	n.logger.Log(ctx, level, alert.Message,
		"alert_id", alert.ID,
		"alert_type", string(alert.Type),
		"severity", string(alert.Severity),
		"details", alert.Details,
	)
	return nil
}

// MultiNotifier fans an alert out to several notifiers.
type MultiNotifier []Notifier

// Notify delivers the alert to every notifier and joins their errors.
func (m MultiNotifier) Notify(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SafeNotifier shields callers from a notifier's failures.
//
// Errors and panics are logged and swallowed, and each delivery is bounded
// by a timeout. Notify always returns nil.
type SafeNotifier struct {
	inner   Notifier
	timeout time.Duration
	logger  *slog.Logger
}

// Safe wraps n so that delivery failures never reach the caller.
// A zero timeout defaults to 5 seconds.
func Safe(n Notifier, timeout time.Duration, logger *slog.Logger) *SafeNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SafeNotifier{
		inner:   n,
		timeout: timeout,
		logger:  logger.With("component", "notify"),
	}
}

// Notify delivers the alert, logging any error or panic.
func (s *SafeNotifier) Notify(ctx context.Context, alert Alert) (err error) {
	if s.inner == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notifier panic",
				"alert_id", alert.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
		err = nil
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if deliverErr := s.inner.Notify(ctx, alert); deliverErr != nil {
		s.logger.Warn("failed to deliver alert",
			"alert_id", alert.ID,
			"alert_type", string(alert.Type),
			"error", deliverErr,
		)
	}
	return nil
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string, timeout time.Duration) (*WebhookNotifier, error) {
	if url == "" {
		return nil, errors.New("webhook url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Notify posts the alert. Non-2xx responses are returned as errors.
func (w *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
