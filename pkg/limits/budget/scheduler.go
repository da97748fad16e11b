package budget

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultResetSchedule resets spend totals every day at midnight.
const DefaultResetSchedule = "0 0 * * *"

// Scheduler resets a ledger's totals on a cron schedule.
type Scheduler struct {
	ledger   *Ledger
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewScheduler creates a reset scheduler for ledger. An empty schedule
// uses DefaultResetSchedule; the schedule is evaluated in the ledger's
// configured location.
func NewScheduler(ledger *Ledger, schedule string) *Scheduler {
	if schedule == "" {
		schedule = DefaultResetSchedule
	}
	return &Scheduler{
		ledger:   ledger,
		schedule: schedule,
		cron:     cron.New(cron.WithLocation(ledger.config.Location)),
		logger:   ledger.logger.With("component", "budget.scheduler"),
	}
}

// Start validates the schedule and begins running resets. The scheduler
// stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("budget scheduler already running")
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runReset); err != nil {
		return fmt.Errorf("failed to schedule budget reset: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.ledger.setNextReset(s.NextRun)

	s.logger.Info("budget scheduler started",
		"schedule", s.schedule,
		"location", s.ledger.config.Location.String(),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// runReset executes one reset, recovering from panics so the schedule
// keeps running.
func (s *Scheduler) runReset() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("budget reset panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	s.ledger.Reset()
}

// Stop stops the scheduler and waits for a running reset to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.running = false
	s.ledger.setNextReset(nil)
	s.logger.Info("budget scheduler stopped")
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled reset, or the zero time if the
// scheduler has no entries.
func (s *Scheduler) NextRun() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
