package schedule

import (
	"context"
	"fmt"
	"time"

	"reportd/internal/job"
)

const (
	DefaultPollInterval = 20 * time.Second
	DefaultCooldown     = 65 * time.Second
	// MinCooldown keeps the post-run sleep longer than one matching minute.
	MinCooldown       = 61 * time.Second
	DefaultRetainDays = 30
)

// Config controls the scheduler loop. It may be replaced at runtime with Apply.
type Config struct {
	Slots   []Slot
	CatchUp bool

	PollInterval time.Duration
	Cooldown     time.Duration
	// MatchWindow widens the due test past the slot's own minute. 0 means exact minute.
	MatchWindow time.Duration

	// RetainDays bounds how many days of history are kept in the store. <= 0 keeps everything.
	RetainDays int
}

func (c Config) normalized() Config {
	out := c
	out.Slots = append([]Slot(nil), c.Slots...)
	SortSlots(out.Slots)
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	if out.Cooldown <= 0 {
		out.Cooldown = DefaultCooldown
	}
	if out.Cooldown < MinCooldown {
		out.Cooldown = MinCooldown
	}
	if out.MatchWindow < 0 {
		out.MatchWindow = 0
	}
	return out
}

// Invoker runs the job for one slot. It must not panic and never returns an error;
// failures are carried in the Outcome.
type Invoker interface {
	Run(ctx context.Context, slot string) job.Outcome
}

// Phase is the scheduler's current activity, exposed in snapshots.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDueCheck
	PhaseExecuting
	PhaseCooldown
	PhaseRollover
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDueCheck:
		return "due_check"
	case PhaseExecuting:
		return "executing"
	case PhaseCooldown:
		return "cooldown"
	case PhaseRollover:
		return "rollover"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for c := PhaseIdle; c <= PhaseRollover; c++ {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// Trigger tells why a run started.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerCatchUp   Trigger = "catch_up"
)

// Snapshot is a point-in-time copy of scheduler state.
type Snapshot struct {
	Phase    Phase     `json:"phase"`
	Day      string    `json:"day"`
	Now      time.Time `json:"now"`
	Timezone string    `json:"timezone"`

	Executed []string   `json:"executed"`
	Slots    []SlotInfo `json:"slots"`
	NextSlot string     `json:"next_slot,omitempty"`
	NextAt   time.Time  `json:"next_at,omitempty"`

	CatchUp      bool          `json:"catch_up"`
	PollInterval time.Duration `json:"poll_interval"`
	Cooldown     time.Duration `json:"cooldown"`
	MatchWindow  time.Duration `json:"match_window"`

	Running     string       `json:"running,omitempty"`
	LastOutcome *OutcomeInfo `json:"last_outcome,omitempty"`

	Runs          uint64 `json:"runs"`
	Failures      uint64 `json:"failures"`
	PersistErrors uint64 `json:"persist_errors"`
}

type SlotInfo struct {
	ID       string    `json:"id"`
	Executed bool      `json:"executed"`
	Next     time.Time `json:"next"`
}

// OutcomeInfo is the loggable part of a job.Outcome.
type OutcomeInfo struct {
	Slot      string        `json:"slot"`
	Trigger   Trigger       `json:"trigger"`
	Status    job.Status    `json:"status"`
	ExitCode  int           `json:"exit_code"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Summary   string        `json:"summary"`
	Error     string        `json:"error,omitempty"`
}

func outcomeInfo(out job.Outcome, trig Trigger) *OutcomeInfo {
	info := &OutcomeInfo{
		Slot:      out.Slot,
		Trigger:   trig,
		Status:    out.Status,
		ExitCode:  out.ExitCode,
		StartedAt: out.StartedAt,
		Duration:  out.Duration,
		Summary:   out.Summary(),
	}
	if out.Err != nil {
		info.Error = out.Err.Error()
	}
	return info
}
