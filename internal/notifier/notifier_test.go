package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"reportd/internal/eventbus"
	"reportd/internal/job"
	kit "reportd/internal/transport"
	logx "reportd/pkg/logx"
)

type recordingSender struct {
	mu    sync.Mutex
	texts []string
	opts  []*kit.SendOptions
	err   error
	calls int
}

func (r *recordingSender) SendText(_ context.Context, _ kit.ChatTarget, text string, opt *kit.SendOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.texts = append(r.texts, text)
	r.opts = append(r.opts, opt)
	return nil
}

func (r *recordingSender) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...), r.calls
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Target:        kit.ChatTarget{ChatID: 42},
		RatePerMinute: 600,
		RetryBase:     time.Millisecond,
		Host:          "reports-01",
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func finished(status job.Status, code int) eventbus.Event {
	return eventbus.Event{Type: eventbus.TypeJobFinished, Data: eventbus.JobFinished{
		Trigger: "scheduled",
		Outcome: job.Outcome{Slot: "13:00", Status: status, ExitCode: code, Stderr: "Traceback <module>\nValueError: bad row", Duration: 2 * time.Second},
	}}
}

func TestFailureIsAlerted(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	snd := &recordingSender{}
	svc := New(testConfig(), snd, logx.Nop(), bus)
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	bus.Publish(finished(job.StatusFailed, 2))
	waitFor(t, func() bool { texts, _ := snd.snapshot(); return len(texts) == 1 })

	texts, _ := snd.snapshot()
	if !strings.Contains(texts[0], "exit code: <b>2</b>") || !strings.Contains(texts[0], "reports-01") {
		t.Fatalf("alert text = %q", texts[0])
	}
	snd.mu.Lock()
	opt := snd.opts[0]
	snd.mu.Unlock()
	if opt == nil || opt.ParseMode != "HTML" || opt.Silent {
		t.Fatalf("options = %+v", opt)
	}
}

func TestSuccessOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	for _, onSuccess := range []bool{false, true} {
		bus := eventbus.New()
		snd := &recordingSender{}
		cfg := testConfig()
		cfg.OnSuccess = onSuccess
		svc := New(cfg, snd, logx.Nop(), bus)
		svc.Start(context.Background())

		want := 1
		if onSuccess {
			want = 2
		}
		bus.Publish(finished(job.StatusOK, 0))
		bus.Publish(finished(job.StatusTimeout, -1))
		waitFor(t, func() bool { texts, _ := snd.snapshot(); return len(texts) >= want })
		svc.Stop(context.Background())

		texts, _ := snd.snapshot()
		if len(texts) != want {
			t.Fatalf("on_success=%v: sent %d alerts, want %d: %q", onSuccess, len(texts), want, texts)
		}
	}
}

func TestBreakerStopsCallingAfterFailures(t *testing.T) {
	t.Parallel()
	snd := &recordingSender{err: errors.New("telegram: 502 bad gateway")}
	svc := New(testConfig(), snd, logx.Nop(), nil)
	svc.Start(context.Background())

	for i := 0; i < 5; i++ {
		if err := svc.Notify(context.Background(), kit.Notification{Text: "x", Target: kit.ChatTarget{ChatID: 42}}); err != nil {
			t.Fatalf("Notify %d: %v", i, err)
		}
	}
	waitFor(t, func() bool { return svc.Stats().Failed == 5 })
	svc.Stop(context.Background())

	if _, calls := snd.snapshot(); calls != 3 {
		t.Fatalf("sender called %d times, want 3 before the breaker opens", calls)
	}
	if st := svc.Stats(); st.Breaker != "open" || st.Sent != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

type blockingSender struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSender) SendText(ctx context.Context, _ kit.ChatTarget, _ string, _ *kit.SendOptions) error {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	snd := &blockingSender{started: make(chan struct{}), release: make(chan struct{})}
	cfg := testConfig()
	cfg.QueueSize = 1
	svc := New(cfg, snd, logx.Nop(), nil)
	svc.Start(context.Background())

	n := kit.Notification{Text: "x"}
	if err := svc.Notify(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	<-snd.started
	if err := svc.Notify(context.Background(), n); err != nil {
		t.Fatalf("second Notify: %v", err)
	}
	if err := svc.Notify(context.Background(), n); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third Notify = %v, want ErrQueueFull", err)
	}
	close(snd.release)
	svc.Stop(context.Background())

	if err := svc.Notify(context.Background(), n); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after Stop = %v, want ErrStopped", err)
	}
	if st := svc.Stats(); st.Sent != 2 || st.Dropped != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDisabled(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Enabled = false
	svc := New(cfg, &recordingSender{}, logx.Nop(), nil)
	svc.Start(context.Background())
	if err := svc.Notify(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
	svc.Stop(context.Background())
}

func TestFormatOutcome(t *testing.T) {
	t.Parallel()
	ev := eventbus.JobFinished{Trigger: "catch_up", Outcome: job.Outcome{
		Slot: "08:00", Status: job.StatusFailed, ExitCode: 2,
		Stderr: "ValueError: <bad>", Duration: 1500 * time.Millisecond,
	}}
	got := FormatOutcome("", ev)
	for _, want := range []string{"FAILED", "slot: <b>08:00</b> (catch_up)", "took: 1.5s", "exit code: <b>2</b>", "<pre>ValueError: &lt;bad&gt;</pre>"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}

	ok := FormatOutcome("h", eventbus.JobFinished{Trigger: "scheduled", Outcome: job.Outcome{Slot: "13:00", Status: job.StatusOK, Stderr: "warning"}})
	if strings.Contains(ok, "<pre>") || strings.Contains(ok, "scheduled") {
		t.Fatalf("success alert = %q", ok)
	}
}

func TestLastBytes(t *testing.T) {
	t.Parallel()
	if got := lastBytes("short", 10); got != "short" {
		t.Fatalf("lastBytes = %q", got)
	}
	s := strings.Repeat("a", 50) + "\n" + strings.Repeat("b", 30)
	if got := lastBytes(s, 40); got != "…"+strings.Repeat("b", 30) {
		t.Fatalf("lastBytes = %q", got)
	}
}
