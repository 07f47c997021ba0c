package job

import (
	"fmt"
	"time"
)

// Mode selects how the report job is launched.
type Mode string

const (
	// ModeInterpreter runs Interpreter with Script as its first argument.
	ModeInterpreter Mode = "python"
	// ModeBinary runs a compiled executable directly.
	ModeBinary Mode = "exe"
)

// ParseMode accepts the configured spelling of a mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeInterpreter, "interpreter", "script":
		return ModeInterpreter, nil
	case ModeBinary, "binary":
		return ModeBinary, nil
	default:
		return "", fmt.Errorf("job.mode: unknown mode %q (use python or exe)", s)
	}
}

// Config describes how to launch the report job.
type Config struct {
	Mode Mode

	// Interpreter may carry its own arguments ("py -3"); it is split with shell quoting rules.
	Interpreter string
	Script      string
	Binary      string
	// Args is appended after the script/binary, split the same way as Interpreter.
	Args string

	Dir string
	Env []string // KEY=VALUE pairs added to the inherited environment

	// Timeout kills the child after this long. 0 disables it.
	Timeout time.Duration
	// OutputLimit caps how many bytes of each stream are logged. 0 means the default.
	OutputLimit int
}

const (
	defaultOutputLimit = 16 << 10
	waitDelay          = 10 * time.Second
)

// Status classifies an Outcome.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"  // ran and exited non-zero
	StatusError   Status = "error"   // could not be spawned or waited on
	StatusTimeout Status = "timeout" // killed after Config.Timeout
)

// Outcome is the captured result of one invocation. It is logged and published, never persisted.
type Outcome struct {
	Slot      string
	Status    Status
	ExitCode  int // -1 when the process never reported one
	Stdout    string
	Stderr    string
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

func (o Outcome) OK() bool { return o.Status == StatusOK }

// Summary is a one-line description suitable for logs and alerts.
func (o Outcome) Summary() string {
	switch o.Status {
	case StatusOK:
		return fmt.Sprintf("slot %s finished OK in %.1fs", o.Slot, o.Duration.Seconds())
	case StatusFailed:
		return fmt.Sprintf("slot %s FAILED with code %d after %.1fs", o.Slot, o.ExitCode, o.Duration.Seconds())
	case StatusTimeout:
		return fmt.Sprintf("slot %s killed after timeout (%.1fs)", o.Slot, o.Duration.Seconds())
	default:
		if o.Err != nil {
			return fmt.Sprintf("slot %s crashed: %v", o.Slot, o.Err)
		}
		return fmt.Sprintf("slot %s crashed", o.Slot)
	}
}
