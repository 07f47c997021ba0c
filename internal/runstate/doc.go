// Package runstate persists which scheduled slots already ran on which day.
//
// The record is small (ISO date -> slot ids) and single-writer. Drivers:
//   - "file": one JSON document replaced atomically (temp file + rename)
//   - "sqlite": a SQLite database file (modernc.org/sqlite, no cgo)
//   - "memory": process-local, for tests and dry runs
package runstate
