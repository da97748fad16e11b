// Package budget provides cost accounting for rate- and cost-limited
// resources.
//
// # Overview
//
// The Ledger prices each completed call from a per-resource unit price table
// (USD per 1000 input and output units) and adds the cost to three running
// totals: global, per resource and per caller.
//
// # Daily Budget
//
// When a daily budget is configured, the ledger reports exhaustion once the
// global total reaches it. Totals reset at a fixed daily boundary driven by
// a cron Scheduler:
//
//	ledger, _ := budget.NewLedger(budget.Config{
//	    DailyBudget: 10.00,
//	    Prices:      budget.StaticPrices{"gpt-4o": {Input: 2.50, Output: 10.00}},
//	})
//	sched := budget.NewScheduler(ledger, "0 0 * * *")
//	sched.Start(ctx)
//
//	ledger.Record(ctx, "gpt-4o", "caller-1", 1200, 300)
//	if exhausted, retry := ledger.Exhausted(); exhausted {
//	    // deny until retry elapses
//	}
//
// # Alert Thresholds
//
// Alerts fire when spend crosses 50%, 75%, 90% and 100% of the budget by
// default. Each threshold fires at most once per day. Delivery errors are
// logged and never affect the caller.
//
// # Thread Safety
//
// All ledger operations are safe for concurrent use.
package budget
