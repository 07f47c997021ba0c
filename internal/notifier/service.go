package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"reportd/internal/eventbus"
	rtsup "reportd/internal/runtime/supervisor"
	kit "reportd/internal/transport"
	logx "reportd/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Service implements an async alert pipeline:
// bus subscription + queue + worker + rate limit + retry + circuit breaker.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan kit.Notification
	unsub    func()
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log, bus: bus}
	s.applyLocked(cfg)
	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "notifier." + s.cfg.Channel,
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warn("alert channel state changed", logx.String("breaker", name), logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled && s.sender != nil
	s.mu.Unlock()
	return en
}

// Apply updates the delivery policy. The target and rate apply to the next send;
// QueueSize only takes effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = defaultRatePerMinute
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Channel == "" {
		cfg.Channel = "telegram"
	}
	s.cfg = cfg
	burst := max(1, min(cfg.RatePerMinute, 10))
	s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), burst)
}

// Start subscribes to job events and starts the delivery worker. It is idempotent
// and does nothing when the service is disabled.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled || s.sender == nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan kit.Notification, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// alerts are best-effort and must not take the runner down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	var events <-chan eventbus.Event
	if s.bus != nil {
		events, s.unsub = s.bus.Subscribe(32)
	}
	s.mu.Unlock()

	sup.GoRestart("worker", func(c context.Context) error {
		s.workerLoop(c, q)
		s.mu.Lock()
		stopping := s.stopDone != nil
		s.mu.Unlock()
		if stopping || c.Err() != nil {
			return context.Canceled
		}
		return errors.New("notifier worker exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))

	if events != nil {
		sup.Go0("events", func(c context.Context) { s.eventLoop(c, events) })
	}
	s.log.Info("notifier started", logx.String("channel", s.cfg.Channel), logx.Bool("on_success", s.cfg.OnSuccess))
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	unsub := s.unsub
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		if unsub != nil {
			unsub()
		}
		// Wait for in-flight enqueues, then close the queue so the worker drains it.
		s.sendWG.Wait()
		close(q)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.queue = nil
		s.unsub = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Notify enqueues n without blocking.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled || s.sender == nil {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- n:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

func (s *Service) eventLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != eventbus.TypeJobFinished {
				continue
			}
			fin, ok := ev.Data.(eventbus.JobFinished)
			if !ok {
				continue
			}
			s.notifyOutcome(ctx, fin)
		}
	}
}

func (s *Service) notifyOutcome(ctx context.Context, fin eventbus.JobFinished) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	ok := fin.Outcome.OK()
	if ok && !cfg.OnSuccess {
		return
	}
	prio := 9
	if ok {
		prio = 3
	}
	err := s.Notify(ctx, kit.Notification{
		Channel:  cfg.Channel,
		Priority: prio,
		Target:   cfg.Target,
		Text:     FormatOutcome(cfg.Host, fin),
		Options:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Silent: ok},
	})
	if err != nil {
		s.log.Warn("alert not queued", logx.String("slot", fin.Outcome.Slot), logx.Err(err))
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan kit.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, n)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, n kit.Notification) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	if sender == nil || n.Text == "" {
		return
	}

	var lastErr error
	for attempt := 1; attempt <= 1+cfg.RetryMax; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := s.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, sender.SendText(callCtx, n.Target, n.Text, n.Options)
		})
		cancel()
		if err == nil {
			s.sent.Add(1)
			s.appendHistory(n.Text, nil)
			return
		}
		lastErr = err
		s.log.Debug("alert send failed", logx.Err(err), logx.Int("attempt", attempt))

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if attempt > cfg.RetryMax {
			break
		}
		t := time.NewTimer(cfg.RetryBase << (attempt - 1))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.failed.Add(1)
	s.appendHistory(n.Text, lastErr)
	s.log.Warn("alert not delivered", logx.String("channel", n.Channel), logx.Int64("chat_id", n.Target.ChatID), logx.Err(lastErr))
}

func (s *Service) appendHistory(text string, err error) {
	item := HistoryItem{At: time.Now(), Text: text}
	if err != nil {
		item.Err = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	s.hmu.Unlock()
}

// Stats reports delivery counters and the most recent alerts.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := Stats{Enabled: s.cfg.Enabled && s.sender != nil}
	if s.queue != nil {
		st.Queued = len(s.queue)
	}
	s.mu.Unlock()
	st.Sent = s.sent.Load()
	st.Failed = s.failed.Load()
	st.Dropped = s.dropped.Load()
	st.Breaker = s.breaker.State().String()
	s.hmu.Lock()
	st.Recent = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return st
}
