package runstate

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	// ErrCorrupt marks a state record that exists but could not be decoded.
	// Load still returns an empty State alongside it.
	ErrCorrupt = errors.New("run state corrupt")
	ErrClosed  = errors.New("run state store closed")
)

// DayLayout is the ISO calendar date used as the record key.
const DayLayout = "2006-01-02"

// DayKey returns the record key for t in t's location.
func DayKey(t time.Time) string { return t.Format(DayLayout) }

// Store is the persistence API used by the scheduler.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, st State) error
	Close() error
}

// Config configures the store.
//
// Driver values:
//   - "file": JSON document <Dir>/last_runs.json (default)
//   - "sqlite": SQLite database <Dir>/runstate.db
//   - "memory": nothing touches disk
type Config struct {
	Driver      string
	Dir         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// State maps an ISO day to the sorted ids ("HH:MM") of slots that ran that day.
type State map[string][]string

// Slots returns a copy of the ids recorded for day.
func (s State) Slots(day string) []string {
	ids := s[day]
	if len(ids) == 0 {
		return nil
	}
	return append([]string(nil), ids...)
}

// Has reports whether slot is recorded for day.
func (s State) Has(day, slot string) bool {
	for _, id := range s[day] {
		if id == slot {
			return true
		}
	}
	return false
}

// Set replaces the ids for day. Duplicates and blanks are dropped and the result is sorted.
func (s State) Set(day string, ids []string) {
	s[day] = normalizeIDs(ids)
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := make(State, len(s))
	for day, ids := range s {
		out[day] = append([]string{}, ids...)
	}
	return out
}

// Prune drops every day older than keepDays days before today, plus keys that are
// not ISO dates. keepDays <= 0 disables pruning. It returns the number of days removed.
func (s State) Prune(today string, keepDays int) int {
	if keepDays <= 0 {
		return 0
	}
	t, err := time.Parse(DayLayout, today)
	if err != nil {
		return 0
	}
	cutoff := t.AddDate(0, 0, -(keepDays - 1))
	n := 0
	for day := range s {
		d, err := time.Parse(DayLayout, day)
		if err != nil || d.Before(cutoff) {
			delete(s, day)
			n++
		}
	}
	return n
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
