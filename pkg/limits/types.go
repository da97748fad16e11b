package limits

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"mercator-hq/sluice/pkg/limits/breaker"
)

// Priority is a caller-supplied request priority. Higher priorities get a
// larger multiplier on the resource limit and pay fewer tokens per request.
type Priority string

const (
	// PriorityLow halves the effective limit by default.
	PriorityLow Priority = "low"

	// PriorityNormal is the default priority.
	PriorityNormal Priority = "normal"

	// PriorityHigh raises the effective limit by half by default.
	PriorityHigh Priority = "high"

	// PriorityCritical doubles the effective limit by default.
	PriorityCritical Priority = "critical"
)

// ParsePriority parses a priority name. The empty string is normal.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return p, nil
	default:
		return PriorityNormal, fmt.Errorf("%w: %q", ErrUnknownPriority, s)
	}
}

// ReasonCode identifies the limiter that denied a request.
type ReasonCode string

const (
	// ReasonNone is used for admitted requests.
	ReasonNone ReasonCode = ""

	ReasonCircuitOpen         ReasonCode = "circuit_open"
	ReasonBudgetExceeded      ReasonCode = "budget_exceeded"
	ReasonQuotaRequests       ReasonCode = "quota_exceeded_requests"
	ReasonQuotaTokens         ReasonCode = "quota_exceeded_tokens"
	ReasonQuotaCost           ReasonCode = "quota_exceeded_cost"
	ReasonTokenBucketDepleted ReasonCode = "token_bucket_depleted"
	ReasonConcurrencyLimit    ReasonCode = "concurrency_limit_reached"
	ReasonRateLimitShort      ReasonCode = "rate_limit_exceeded_short"
	ReasonRateLimitMedium     ReasonCode = "rate_limit_exceeded_medium"
	ReasonRateLimitLong       ReasonCode = "rate_limit_exceeded_long"
)

// Reasons lists every denial reason in precedence order.
var Reasons = []ReasonCode{
	ReasonCircuitOpen,
	ReasonBudgetExceeded,
	ReasonQuotaRequests,
	ReasonQuotaTokens,
	ReasonQuotaCost,
	ReasonTokenBucketDepleted,
	ReasonConcurrencyLimit,
	ReasonRateLimitShort,
	ReasonRateLimitMedium,
	ReasonRateLimitLong,
}

// Err returns the sentinel error for the reason, or nil for ReasonNone.
func (r ReasonCode) Err() error {
	switch r {
	case ReasonNone:
		return nil
	case ReasonCircuitOpen:
		return breaker.ErrCircuitOpen
	case ReasonBudgetExceeded:
		return ErrBudgetExceeded
	case ReasonQuotaRequests, ReasonQuotaTokens, ReasonQuotaCost:
		return ErrQuotaExceeded
	case ReasonTokenBucketDepleted:
		return ErrTokenBucketDepleted
	case ReasonConcurrencyLimit:
		return ErrConcurrencyLimit
	default:
		return ErrRateLimitExceeded
	}
}

// Request describes one admission check.
type Request struct {
	// Resource is the limited operation, typically a model name.
	Resource string `json:"resource"`

	// CallerID identifies the caller. Empty means the anonymous pool, which
	// bypasses per-caller quotas and token buckets.
	CallerID string `json:"caller_id,omitempty"`

	// Priority scales the resource limit. Empty means normal.
	Priority Priority `json:"priority,omitempty"`

	// EstimatedTokens is checked against the caller's daily token quota.
	EstimatedTokens int `json:"estimated_tokens,omitempty"`
}

// Outcome is the result of an admission check. Denials are values, not
// errors.
type Outcome struct {
	Admitted   bool
	RetryAfter time.Duration
	Reason     ReasonCode
}

// RetryAfterSeconds returns the retry delay rounded up to whole seconds,
// or 0 for admitted requests.
func (o Outcome) RetryAfterSeconds() int {
	if o.Admitted || o.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(o.RetryAfter.Seconds()))
}

// Err returns a *LimitError describing a denial, or nil if the request
// was admitted.
func (o Outcome) Err(resource string) error {
	if o.Admitted {
		return nil
	}
	return &LimitError{
		Type:       o.Reason,
		Resource:   resource,
		RetryAfter: o.RetryAfter,
		Err:        o.Reason.Err(),
	}
}

func admit() Outcome {
	return Outcome{Admitted: true}
}

func deny(reason ReasonCode, retryAfter time.Duration) Outcome {
	return Outcome{Reason: reason, RetryAfter: retryAfter}
}

// Error types for limit violations and system errors.
var (
	// ErrRateLimitExceeded is wrapped by sliding window denials.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrBudgetExceeded is wrapped by budget denials.
	ErrBudgetExceeded = errors.New("daily budget exceeded")

	// ErrQuotaExceeded is wrapped by per-caller quota denials.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrTokenBucketDepleted is wrapped by token bucket denials.
	ErrTokenBucketDepleted = errors.New("token bucket depleted")

	// ErrConcurrencyLimit is wrapped by concurrency cap denials.
	ErrConcurrencyLimit = errors.New("concurrency limit reached")

	// ErrUnknownPriority is returned by ParsePriority.
	ErrUnknownPriority = errors.New("unknown priority")

	// ErrInvalidConfig is returned by New for malformed configuration.
	ErrInvalidConfig = errors.New("invalid throttle configuration")

	// ErrAlreadyStarted is returned by Start on a running coordinator.
	ErrAlreadyStarted = errors.New("coordinator already started")

	// ErrNotStarted is returned by Stop on a coordinator that is not running.
	ErrNotStarted = errors.New("coordinator not started")

	// ErrQuotaNotFound is returned when a caller has no stored quota.
	ErrQuotaNotFound = errors.New("quota not found")
)

// LimitError provides detailed context about a denial.
// HTTP adapters use it to build 429 responses.
type LimitError struct {
	// Type is the denial reason.
	Type ReasonCode

	// Resource is the resource that was checked.
	Resource string

	// RetryAfter is the advisory wait before retrying.
	RetryAfter time.Duration

	// Err is the underlying sentinel error.
	Err error
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	return fmt.Sprintf("%s for %s: retry after %s", e.Type, e.Resource, e.RetryAfter.Round(time.Millisecond))
}

// Unwrap returns the underlying error for error wrapping.
func (e *LimitError) Unwrap() error {
	return e.Err
}
