package limits

import (
	"context"
	"errors"
	"sync"
)

// Guard holds one concurrency slot for an admitted request.
//
// Release must be called exactly once on every path, usually with defer.
// Calling it more than once is safe. If Success, Failure or Finish was
// called first, Release forwards that outcome to the circuit breaker;
// otherwise the breaker is left untouched.
//
//	guard := c.Acquire(ctx, "gpt-4o")
//	defer guard.Release()
//
//	resp, err := call(ctx)
//	guard.Finish(err)
type Guard struct {
	c        *Coordinator
	resource string

	mu      sync.Mutex
	outcome *bool

	once sync.Once
}

// Acquire takes a concurrency slot for resource without running the
// admission checks. It never blocks.
func (c *Coordinator) Acquire(ctx context.Context, resource string) *Guard {
	c.metrics.UpdateInFlight(c.inflight.Enter(resource))
	return &Guard{c: c, resource: resource}
}

// Admit runs the admission checks and, if the request is admitted, takes
// a concurrency slot. The guard is nil when the request is denied.
func (c *Coordinator) Admit(ctx context.Context, req Request) (*Guard, Outcome) {
	outcome := c.CheckAdmission(ctx, req)
	if !outcome.Admitted {
		return nil, outcome
	}
	return c.Acquire(ctx, req.Resource), outcome
}

// Resource returns the guarded resource.
func (g *Guard) Resource() string {
	return g.resource
}

// Success records a successful call.
func (g *Guard) Success() {
	g.setOutcome(true)
}

// Failure records a failed call.
func (g *Guard) Failure() {
	g.setOutcome(false)
}

// Finish records the outcome of a call from its error. Context
// cancellation by the caller is not a resource failure, so it records
// nothing.
func (g *Guard) Finish(err error) {
	switch {
	case err == nil:
		g.Success()
	case errors.Is(err, context.Canceled):
	default:
		g.Failure()
	}
}

// Release frees the slot and reports the recorded outcome, if any.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		g.c.metrics.UpdateInFlight(g.c.inflight.Leave(g.resource))

		g.mu.Lock()
		outcome := g.outcome
		g.mu.Unlock()

		if outcome != nil {
			g.c.ReportOutcome(g.resource, *outcome)
		}
	})
}

func (g *Guard) setOutcome(success bool) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcome = &success
}
