// Package notifier sends operator alerts about job outcomes.
//
// The service listens on the event bus for finished jobs and turns them into short
// messages for a chat. Failures are always reported; successful runs only when
// Config.OnSuccess is set.
//
// # Delivery
//
// Messages go through a bounded queue to a single worker, so alerts arrive in run
// order. The worker is rate limited (token bucket) and wraps the transport in a
// circuit breaker: after repeated send failures it stops calling the chat API for
// a while instead of retrying every alert.
//
// Nothing here can block or fail the scheduler. A full queue drops the alert and a
// failed send is logged.
package notifier
