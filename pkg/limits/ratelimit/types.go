package ratelimit

import "time"

// Period identifies one of the nested sliding windows tracked per resource.
type Period int

const (
	// PeriodNone is returned when no window was exceeded.
	PeriodNone Period = iota

	// PeriodShort is the 60 second window. Its threshold includes the burst allowance.
	PeriodShort

	// PeriodMedium is the 5 minute window.
	PeriodMedium

	// PeriodLong is the 1 hour window.
	PeriodLong

	// PeriodDaily is the 24 hour window. It is tracked for reporting only.
	PeriodDaily
)

// Window durations. The base limit of a resource is always expressed as
// requests per ShortPeriod; longer thresholds scale from it.
const (
	ShortPeriod  = 60 * time.Second
	MediumPeriod = 5 * time.Minute
	LongPeriod   = time.Hour
	DailyPeriod  = 24 * time.Hour
)

// periods lists the tracked windows from shortest to longest. Pruning and
// threshold checks always walk this order.
var periods = [...]Period{PeriodShort, PeriodMedium, PeriodLong, PeriodDaily}

// String returns the lowercase period name used in reason codes and metrics.
func (p Period) String() string {
	switch p {
	case PeriodShort:
		return "short"
	case PeriodMedium:
		return "medium"
	case PeriodLong:
		return "long"
	case PeriodDaily:
		return "daily"
	default:
		return "none"
	}
}

// Duration returns the span covered by the period.
func (p Period) Duration() time.Duration {
	switch p {
	case PeriodShort:
		return ShortPeriod
	case PeriodMedium:
		return MediumPeriod
	case PeriodLong:
		return LongPeriod
	case PeriodDaily:
		return DailyPeriod
	default:
		return 0
	}
}

// WindowConfig configures a WindowLimiter.
type WindowConfig struct {
	// BurstAllowance is the number of extra requests permitted in the short
	// window on top of the adjusted limit.
	BurstAllowance int

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// WindowCounts reports the number of recorded requests per window.
type WindowCounts struct {
	Short  int `json:"short"`
	Medium int `json:"medium"`
	Long   int `json:"long"`
	Daily  int `json:"daily"`
}

// BucketConfig configures a BucketSet.
type BucketConfig struct {
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}
