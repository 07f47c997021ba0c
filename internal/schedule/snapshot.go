package schedule

import (
	"fmt"
	"sort"
	"strings"

	"reportd/internal/job"
)

// Snapshot returns a copy of the scheduler state. Safe to call from any goroutine.
func (s *Scheduler) Snapshot() Snapshot {
	now := s.clock.Now()

	s.mu.Lock()
	cfg := s.cfg
	executed := make(map[string]bool, len(s.executed))
	for id, ok := range s.executed {
		executed[id] = ok
	}
	snap := Snapshot{
		Phase:         s.phase,
		Day:           s.day,
		Now:           now,
		Timezone:      now.Location().String(),
		CatchUp:       cfg.CatchUp,
		PollInterval:  cfg.PollInterval,
		Cooldown:      cfg.Cooldown,
		MatchWindow:   cfg.MatchWindow,
		Running:       s.running,
		Runs:          s.runs,
		Failures:      s.failures,
		PersistErrors: s.persistN,
	}
	if s.last != nil {
		last := *s.last
		snap.LastOutcome = &last
	}
	s.mu.Unlock()

	snap.Executed = setIDs(executed)
	sort.Strings(snap.Executed)

	for _, sl := range cfg.Slots {
		info := SlotInfo{ID: sl.ID(), Executed: executed[sl.ID()], Next: sl.Next(now)}
		if info.Executed && sameDay(info.Next, now) {
			info.Next = sl.Next(info.Next)
		}
		snap.Slots = append(snap.Slots, info)
	}
	if next, at, ok := NextDue(cfg.Slots, now, executed); ok {
		snap.NextSlot = next.ID()
		snap.NextAt = at
	}
	return snap
}

// StatusLine is a one-line summary for service managers.
func (s Snapshot) StatusLine() string {
	var b strings.Builder
	switch {
	case s.Phase == PhaseExecuting && s.Running != "":
		fmt.Fprintf(&b, "running slot %s", s.Running)
	default:
		if s.NextSlot != "" {
			fmt.Fprintf(&b, "next run %s at %s", s.NextSlot, s.NextAt.Format("2006-01-02 15:04 MST"))
		} else {
			b.WriteString("idle")
		}
	}
	if len(s.Executed) > 0 {
		fmt.Fprintf(&b, "; ran today: %s", strings.Join(s.Executed, ","))
	}
	if s.LastOutcome != nil && s.LastOutcome.Status != job.StatusOK {
		fmt.Fprintf(&b, "; last: %s", s.LastOutcome.Summary)
	}
	return b.String()
}
