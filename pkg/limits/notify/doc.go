// Package notify delivers alerts raised by the throttling core.
//
// The core only decides whether and when to alert; delivery is pluggable
// through the Notifier interface. Wrap any notifier that may fail or block
// with Safe before handing it to a component on the admission path:
//
//	n := notify.Safe(notify.MultiNotifier{
//	    notify.NewLogNotifier(logger),
//	    webhook,
//	}, 5*time.Second, logger)
package notify
