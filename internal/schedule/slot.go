package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrNoSlots is returned when a slot list parses to nothing.
var ErrNoSlots = errors.New("no run times configured")

// Slot is a time of day at which the job is due.
type Slot struct {
	Hour   int
	Minute int
}

var reSlot = regexp.MustCompile(`^(\d{1,2}):(\d{1,2})$`)

// ParseSlot parses a 24-hour "HH:MM" value. Single-digit fields are accepted ("8:5" is 08:05).
func ParseSlot(raw string) (Slot, error) {
	s := strings.TrimSpace(raw)
	m := reSlot.FindStringSubmatch(s)
	if len(m) != 3 {
		return Slot{}, fmt.Errorf("invalid run time %q (want HH:MM)", raw)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if hh > 23 {
		return Slot{}, fmt.Errorf("invalid run time %q: hour must be 00-23", raw)
	}
	if mm > 59 {
		return Slot{}, fmt.Errorf("invalid run time %q: minute must be 00-59", raw)
	}
	return Slot{Hour: hh, Minute: mm}, nil
}

// ParseSlots parses a comma-separated list such as "08:00,13:00".
//
// Entries are trimmed, blanks skipped, duplicates collapsed and the result sorted
// ascending. Any malformed entry fails the whole list.
func ParseSlots(raw string) ([]Slot, error) {
	return ParseSlotList(strings.Split(raw, ","))
}

// ParseSlotList is ParseSlots for values that are already split.
func ParseSlotList(items []string) ([]Slot, error) {
	seen := map[Slot]struct{}{}
	out := make([]Slot, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it) == "" {
			continue
		}
		sl, err := ParseSlot(it)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[sl]; ok {
			continue
		}
		seen[sl] = struct{}{}
		out = append(out, sl)
	}
	if len(out) == 0 {
		return nil, ErrNoSlots
	}
	SortSlots(out)
	return out, nil
}

// SortSlots orders slots by time of day.
func SortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool { return slots[i].minuteOfDay() < slots[j].minuteOfDay() })
}

// ID is the canonical "HH:MM" form used as the run-state key.
func (s Slot) ID() string { return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute) }

func (s Slot) String() string { return s.ID() }

func (s Slot) minuteOfDay() int { return s.Hour*60 + s.Minute }

// On returns the slot's instant on the calendar day of t, in t's location.
func (s Slot) On(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, s.Hour, s.Minute, 0, 0, t.Location())
}

// Passed reports whether the slot's time of day is at or before now's minute.
func (s Slot) Passed(now time.Time) bool {
	return s.minuteOfDay() <= now.Hour()*60+now.Minute()
}

// Due reports whether now falls inside the slot's minute, widened by window.
// The window never crosses into the next day.
func (s Slot) Due(now time.Time, window time.Duration) bool {
	if window <= 0 {
		return now.Hour() == s.Hour && now.Minute() == s.Minute
	}
	at := s.On(now)
	if now.Before(at) {
		return false
	}
	return now.Sub(at) < window+time.Minute
}

// Cron is the standard 5-field daily expression for the slot.
func (s Slot) Cron() string { return fmt.Sprintf("%d %d * * *", s.Minute, s.Hour) }

// Next returns the first occurrence of the slot strictly after t.
func (s Slot) Next(t time.Time) time.Time {
	sched, err := cron.ParseStandard(s.Cron())
	if err != nil {
		// Slot values are range-checked, so the expression is always valid.
		return time.Time{}
	}
	return sched.Next(t)
}

// IDs returns the ids of slots in order.
func IDs(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.ID())
	}
	return out
}

// NextDue returns the earliest upcoming slot after now that has not run today.
// ok is false when slots is empty.
func NextDue(slots []Slot, now time.Time, executed map[string]bool) (Slot, time.Time, bool) {
	var (
		best   Slot
		bestAt time.Time
		found  bool
	)
	for _, sl := range slots {
		at := sl.Next(now)
		// Next may land later today on a slot that already ran (window matching); skip to tomorrow.
		if executed[sl.ID()] && sameDay(at, now) {
			at = sl.Next(at)
		}
		if !found || at.Before(bestAt) {
			best, bestAt, found = sl, at, true
		}
	}
	return best, bestAt, found
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
