// Package schedule runs the report job at fixed times of day.
//
// A Scheduler owns the set of slots already executed today. It polls a Clock,
// runs any due slot through an Invoker, records the slot and persists the record
// through a runstate.Store. A slot runs at most once per calendar day, across
// restarts as long as the store survives.
//
// Everything that touches scheduler state happens on the goroutine calling Run.
// Other goroutines use Reschedule/Apply (staged atomically) and Snapshot.
package schedule
