package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"reportd/internal/eventbus"
	"reportd/internal/runstate"
	logx "reportd/pkg/logx"
)

// Deps are the collaborators a Scheduler drives.
type Deps struct {
	Clock   Clock
	Store   runstate.Store
	Invoker Invoker
	Log     logx.Logger
	Bus     eventbus.Bus // optional
}

// Scheduler is the run-at-most-once-per-day state machine.
type Scheduler struct {
	log   logx.Logger
	clock Clock
	store runstate.Store
	inv   Invoker
	bus   eventbus.Bus

	staged atomic.Pointer[Config]

	// Owned by the loop goroutine. Fields also read by Snapshot are written under mu.
	state       runstate.State
	initialized bool
	persistWarn rate.Sometimes

	mu       sync.Mutex
	cfg      Config
	day      string
	executed map[string]bool
	phase    Phase
	running  string
	last     *OutcomeInfo
	runs     uint64
	failures uint64
	persistN uint64
}

func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Store == nil {
		return nil, errors.New("schedule: store is required")
	}
	if deps.Invoker == nil {
		return nil, errors.New("schedule: invoker is required")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	cfg = cfg.normalized()
	if len(cfg.Slots) == 0 {
		return nil, ErrNoSlots
	}
	return &Scheduler{
		log:         deps.Log,
		clock:       deps.Clock,
		store:       deps.Store,
		inv:         deps.Invoker,
		bus:         deps.Bus,
		cfg:         cfg,
		executed:    map[string]bool{},
		state:       runstate.State{},
		persistWarn: rate.Sometimes{Interval: time.Minute},
	}, nil
}

// Apply stages a new loop config. It takes effect at the start of the next Tick;
// the executed set is untouched.
func (s *Scheduler) Apply(cfg Config) error {
	cfg = cfg.normalized()
	if len(cfg.Slots) == 0 {
		return ErrNoSlots
	}
	s.staged.Store(&cfg)
	return nil
}

// Reschedule stages a new slot list, keeping the other settings.
func (s *Scheduler) Reschedule(slots []Slot) error {
	cfg := s.Config()
	cfg.Slots = slots
	return s.Apply(cfg)
}

// Config returns the config the loop will use next.
func (s *Scheduler) Config() Config {
	if p := s.staged.Load(); p != nil {
		return *p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Scheduler) applyStaged() Config {
	p := s.staged.Swap(nil)
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		return s.cfg
	}
	old := s.cfg
	s.cfg = *p
	s.log.Info("schedule updated",
		logx.Strings("from", IDs(old.Slots)),
		logx.Strings("to", IDs(p.Slots)),
		logx.Duration("poll", p.PollInterval),
		logx.Duration("cooldown", p.Cooldown),
		logx.Duration("match_window", p.MatchWindow),
	)
	return s.cfg
}

// Init loads the run-state record and seeds today's executed set.
// A load failure is logged and treated as an empty record.
func (s *Scheduler) Init(ctx context.Context) {
	cfg := s.applyStaged()
	now := s.clock.Now()
	s.state = s.load(ctx)
	day := runstate.DayKey(now)

	s.mu.Lock()
	s.day = day
	s.executed = toSet(s.state.Slots(day))
	s.phase = PhaseIdle
	s.mu.Unlock()
	s.initialized = true

	s.log.Info("scheduler initialized",
		logx.String("day", day),
		logx.Strings("slots", IDs(cfg.Slots)),
		logx.Strings("already_ran", s.state.Slots(day)),
		logx.Bool("catch_up", cfg.CatchUp),
		logx.String("tz", now.Location().String()),
	)
}

// CatchUp runs, in ascending order, every slot whose time today is at or before
// the moment CatchUp was called and which has not run today. It returns how many
// slots were run. It does nothing when catch-up is disabled.
func (s *Scheduler) CatchUp(ctx context.Context) int {
	if !s.initialized {
		s.Init(ctx)
	}
	cfg := s.applyStaged()
	if !cfg.CatchUp {
		s.log.Debug("catch-up disabled")
		return 0
	}
	start := s.clock.Now()
	if runstate.DayKey(start) != s.day {
		s.rollover(ctx, start)
	}

	n := 0
	for _, sl := range cfg.Slots {
		if ctx.Err() != nil {
			break
		}
		if !sl.Passed(start) || s.executed[sl.ID()] {
			continue
		}
		s.log.Info("catch-up run", logx.String("slot", sl.ID()))
		s.execute(ctx, sl, TriggerCatchUp)
		n++
	}
	s.setPhase(PhaseIdle, "")
	s.log.Info("catch-up pass complete", logx.Int("ran", n), logx.Time("as_of", start))
	return n
}

// Tick performs one poll: rollover if the day changed, then run the first due
// slot that has not run today. It reports whether a slot ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.initialized {
		s.Init(ctx)
	}
	cfg := s.applyStaged()
	now := s.clock.Now()
	if runstate.DayKey(now) != s.day {
		s.rollover(ctx, now)
	}

	s.setPhase(PhaseDueCheck, "")
	for _, sl := range cfg.Slots {
		if s.executed[sl.ID()] {
			continue
		}
		if !sl.Due(now, cfg.MatchWindow) {
			continue
		}
		s.log.Info("scheduled run triggered", logx.String("slot", sl.ID()))
		s.execute(ctx, sl, TriggerScheduled)
		return true
	}
	s.setPhase(PhaseIdle, "")
	return false
}

// Run polls until ctx is canceled and returns ctx.Err(). After a run it sleeps the
// cooldown instead of the poll interval.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.initialized {
		s.Init(ctx)
	}
	s.log.Info("scheduler loop started")
	for {
		if err := ctx.Err(); err != nil {
			s.setPhase(PhaseIdle, "")
			return err
		}
		wait := s.Config().PollInterval
		if s.Tick(ctx) {
			wait = s.Config().Cooldown
			s.setPhase(PhaseCooldown, "")
		}
		if err := s.clock.Sleep(ctx, wait); err != nil {
			s.setPhase(PhaseIdle, "")
			s.log.Info("scheduler loop stopped", logx.Err(err))
			return err
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, sl Slot, trig Trigger) {
	id := sl.ID()
	s.setPhase(PhaseExecuting, id)
	s.publish(eventbus.TypeJobStarted, eventbus.JobStarted{Slot: id, Trigger: string(trig), At: s.clock.Now()})

	out := s.inv.Run(ctx, id)

	// Marked whatever the outcome: a failed slot is not retried the same day.
	s.mu.Lock()
	s.executed[id] = true
	s.phase = PhaseIdle
	s.running = ""
	s.runs++
	if !out.OK() {
		s.failures++
	}
	s.last = outcomeInfo(out, trig)
	s.mu.Unlock()

	s.persist(ctx)
	s.publish(eventbus.TypeJobFinished, eventbus.JobFinished{Trigger: string(trig), Outcome: out})
}

func (s *Scheduler) rollover(ctx context.Context, now time.Time) {
	from := s.day
	to := runstate.DayKey(now)
	s.setPhase(PhaseRollover, "")

	st, err := s.store.Load(ctx)
	switch {
	case err == nil:
		s.state = st
	case errors.Is(err, runstate.ErrCorrupt):
		s.log.Warn("run state unreadable at rollover; starting from an empty record", logx.Err(err))
		s.state = runstate.State{}
	default:
		// Keep the retained history; saving an empty record would erase it.
		s.log.Warn("failed to reload run state at rollover; keeping in-memory record", logx.Err(err))
	}
	if s.state == nil {
		s.state = runstate.State{}
	}
	s.mu.Lock()
	s.day = to
	// Normally empty; only non-empty if the record already holds the new day.
	s.executed = toSet(s.state.Slots(to))
	s.mu.Unlock()

	s.log.Info("day rollover", logx.String("from", from), logx.String("to", to))
	s.persist(ctx)
	s.publish(eventbus.TypeDayRollover, eventbus.DayRollover{From: from, To: to})
}

func (s *Scheduler) load(ctx context.Context) runstate.State {
	st, err := s.store.Load(ctx)
	if err != nil {
		if errors.Is(err, runstate.ErrCorrupt) {
			s.log.Warn("run state unreadable; starting from an empty record", logx.Err(err))
		} else {
			s.log.Warn("failed to load run state; starting from an empty record", logx.Err(err))
		}
	}
	if st == nil {
		st = runstate.State{}
	}
	return st
}

// persist writes the executed set for the current day. Failures leave the
// in-memory state authoritative.
func (s *Scheduler) persist(ctx context.Context) {
	s.mu.Lock()
	day := s.day
	ids := setIDs(s.executed)
	retain := s.cfg.RetainDays
	s.mu.Unlock()

	s.state.Set(day, ids)
	if n := s.state.Prune(day, retain); n > 0 {
		s.log.Debug("pruned old run state", logx.Int("days", n), logx.Int("retain_days", retain))
	}

	// A canceled ctx means shutdown; the record of a run that just ended must still land.
	if err := s.store.Save(context.WithoutCancel(ctx), s.state); err != nil {
		s.mu.Lock()
		s.persistN++
		s.mu.Unlock()
		s.log.Debug("persist failed", logx.String("day", day), logx.Err(err))
		s.persistWarn.Do(func() {
			s.log.Warn("failed to persist run state; keeping in-memory record", logx.String("day", day), logx.Err(err))
		})
		s.publish(eventbus.TypePersistFailed, eventbus.PersistFailed{Day: day, Err: err})
	}
}

func (s *Scheduler) setPhase(p Phase, running string) {
	s.mu.Lock()
	s.phase = p
	s.running = running
	s.mu.Unlock()
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: data})
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func setIDs(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for id, ok := range m {
		if ok {
			out = append(out, id)
		}
	}
	return out
}
