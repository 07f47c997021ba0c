//go:build unix

package job

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	logx "reportd/pkg/logx"
)

// processGone reports whether pid has exited. A zombie waiting to be reaped counts as gone.
func processGone(pid int) bool {
	if err := syscall.Kill(pid, 0); errors.Is(err, syscall.ESRCH) {
		return true
	}
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	// Format: pid (comm) state ...
	stat := string(b)
	if i := strings.LastIndexByte(stat, ')'); i >= 0 && i+2 < len(stat) {
		return stat[i+2] == 'Z'
	}
	return false
}

func TestTimeoutKillsGrandchildren(t *testing.T) {
	t.Parallel()
	cfg := shellJob(t, "sleep 37 & echo $!; wait")
	cfg.Timeout = 200 * time.Millisecond
	inv, err := New(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	start := time.Now()
	out := inv.Run(context.Background(), "08:00")
	took := time.Since(start)
	if out.Status != StatusTimeout {
		t.Fatalf("status = %s (%v)", out.Status, out.Err)
	}
	if took > 4*time.Second {
		t.Fatalf("Run returned after %s; the grandchild kept the pipes open", took)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(out.Stdout))
	if err != nil {
		t.Fatalf("grandchild pid not captured: %q", out.Stdout)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !processGone(pid) {
		if time.Now().After(deadline) {
			_ = syscall.Kill(pid, syscall.SIGKILL)
			t.Fatalf("grandchild %d still running after timeout", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCancelKillsProcessGroup(t *testing.T) {
	t.Parallel()
	inv, err := New(shellJob(t, "sleep 37 & wait"), logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	out := inv.Run(ctx, "13:00")
	if out.Status != StatusError || out.Err == nil || !strings.Contains(out.Err.Error(), "interrupted") {
		t.Fatalf("outcome = %+v", out)
	}
	if took := time.Since(start); took > 4*time.Second {
		t.Fatalf("shutdown waited %s for the job", took)
	}
}
