// Package logx is reportd's logging layer on top of zerolog.
//
// A Service owns the console sink and the append-only run log and can be
// reconfigured while loggers derived from it are in use. Every event carries a
// short file:line caller.
package logx
