// Package adaptive tunes per-resource rate limits from observed deny rates.
//
// A resource denying more than 10% of requests in a pass has its limit cut
// by 10% (never below 10); one denying less than 1% has it raised by 10%
// (never above 1000). Passes with fewer than 20 samples for a resource
// leave it alone.
package adaptive
