// Package breaker implements a per-resource circuit breaker with
// exponential trip backoff.
//
// Callers report outcomes with RecordResult; Check only reads. Once a
// window of outcomes fills, its error ratio is evaluated and the window is
// cleared. A trip rejects every Check until it expires, after which the
// first Check closes the breaker again.
//
//	b := breaker.New(breaker.Config{WindowSize: 20, ErrorThreshold: 0.5})
//	if tripped, retry := b.Check("gpt-4o"); tripped {
//	    return fmt.Errorf("retry in %s: %w", retry, breaker.ErrCircuitOpen)
//	}
//	err := call()
//	b.RecordResult("gpt-4o", err == nil)
package breaker
