package systemd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "reportd/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) send(state string) (bool, error) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	return true, nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func newTestNotifier(r *recorder, wd time.Duration) *Notifier {
	n := New(logx.Nop())
	n.send = r.send
	n.watchdog = func() (time.Duration, error) { return wd, nil }
	return n
}

func TestStatusDeduplicates(t *testing.T) {
	t.Parallel()
	r := &recorder{}
	n := newTestNotifier(r, 0)
	n.Ready()
	n.Status("next run 13:00")
	n.Status("next run 13:00")
	n.Status("running 13:00")
	n.Stopping()

	want := []string{daemon.SdNotifyReady, "STATUS=next run 13:00", "STATUS=running 13:00", daemon.SdNotifyStopping}
	got := r.all()
	if len(got) != len(want) {
		t.Fatalf("states = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %q, want %q", got, want)
		}
	}
}

func TestWatchdogDisabledReturnsImmediately(t *testing.T) {
	t.Parallel()
	n := newTestNotifier(&recorder{}, 0)
	if err := n.RunWatchdog(context.Background(), nil); err != nil {
		t.Fatalf("RunWatchdog = %v", err)
	}
}

func TestWatchdogPingsOnlyWhenHealthy(t *testing.T) {
	t.Parallel()
	r := &recorder{}
	n := newTestNotifier(r, 20*time.Millisecond)

	var mu sync.Mutex
	healthy := false
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- n.RunWatchdog(ctx, func() bool { mu.Lock(); defer mu.Unlock(); return healthy })
	}()

	time.Sleep(60 * time.Millisecond)
	if len(r.all()) != 0 {
		t.Fatalf("pinged while unhealthy: %q", r.all())
	}
	mu.Lock()
	healthy = true
	mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for len(r.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if got := r.all(); len(got) == 0 || got[0] != daemon.SdNotifyWatchdog {
		t.Fatalf("states = %q", got)
	}
}
