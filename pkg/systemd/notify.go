// Package systemd reports service state to the systemd manager (sd_notify).
//
// Outside systemd (no NOTIFY_SOCKET) every call is a cheap no-op.
package systemd

import (
	"context"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "reportd/pkg/logx"
)

// Notifier sends READY/STATUS/STOPPING and watchdog keep-alives.
type Notifier struct {
	log logx.Logger

	// send and watchdog are swapped in tests.
	send     func(state string) (bool, error)
	watchdog func() (time.Duration, error)

	mu         sync.Mutex
	lastStatus string
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		log:      log,
		send:     func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) notify(state string) bool {
	sent, err := n.send(state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return sent
}

// Ready tells systemd that startup finished (Type=notify units).
func (n *Notifier) Ready() {
	if n.notify(daemon.SdNotifyReady) {
		n.log.Debug("systemd notified: ready")
	}
}

// Status updates the unit's status line. Repeated identical lines are skipped.
func (n *Notifier) Status(line string) {
	n.mu.Lock()
	if line == n.lastStatus {
		n.mu.Unlock()
		return
	}
	n.lastStatus = line
	n.mu.Unlock()
	n.notify("STATUS=" + line)
}

func (n *Notifier) Stopping() {
	n.notify(daemon.SdNotifyStopping)
}

// WatchdogInterval returns WatchdogSec for this process, or 0 when disabled.
func (n *Notifier) WatchdogInterval() time.Duration {
	d, err := n.watchdog()
	if err != nil {
		n.log.Warn("invalid systemd watchdog settings", logx.Err(err))
		return 0
	}
	return d
}

// RunWatchdog pings the watchdog at half its interval until ctx is done. A ping
// is skipped while healthy reports false, so a stuck loop lets systemd restart us.
// It returns at once when the watchdog is disabled.
func (n *Notifier) RunWatchdog(ctx context.Context, healthy func() bool) error {
	interval := n.WatchdogInterval()
	if interval <= 0 {
		return nil
	}
	every := interval / 2
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if healthy != nil && !healthy() {
				n.log.Warn("watchdog ping withheld: scheduler unhealthy")
				continue
			}
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
