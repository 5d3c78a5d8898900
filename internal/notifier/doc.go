// Package notifier delivers reminder messages through a transport adapter.
//
// Delivery is synchronous on the caller's goroutine (an engine worker) and
// rate limited with a token bucket so bursts of due reminders stay within the
// platform's send limits. Failed sends are reported, never retried.
package notifier
