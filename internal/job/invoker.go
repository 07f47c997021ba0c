package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"

	logx "reportd/pkg/logx"
)

// captureLimit bounds how much of each stream is kept in memory per run.
const captureLimit = 4 << 20

// Invoker runs the report job as a child process and waits for it.
//
// Run never returns an error: spawn failures, wait failures and panics all become
// an Outcome with StatusError. Concurrent Run calls are not coordinated here; the
// scheduler calls Run from a single goroutine.
type Invoker struct {
	log logx.Logger

	mu   sync.Mutex
	cfg  Config
	argv []string
}

func New(cfg Config, log logx.Logger) (*Invoker, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	inv := &Invoker{log: log}
	if err := inv.Apply(cfg); err != nil {
		return nil, err
	}
	return inv, nil
}

// Apply swaps the launch config. A run already in progress keeps the old one.
func (inv *Invoker) Apply(cfg Config) error {
	argv, err := BuildArgv(cfg)
	if err != nil {
		return err
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = defaultOutputLimit
	}
	inv.mu.Lock()
	inv.cfg = cfg
	inv.argv = argv
	inv.mu.Unlock()
	return nil
}

// Command returns the argv the next run will use.
func (inv *Invoker) Command() []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return append([]string(nil), inv.argv...)
}

// BuildArgv resolves cfg into the command line for the child process.
func BuildArgv(cfg Config) ([]string, error) {
	var argv []string
	switch cfg.Mode {
	case ModeInterpreter, "":
		interp, err := shellquote.Split(strings.TrimSpace(cfg.Interpreter))
		if err != nil {
			return nil, fmt.Errorf("job.interpreter: %w", err)
		}
		if len(interp) == 0 {
			return nil, errors.New("job.interpreter is required in python mode")
		}
		script := strings.TrimSpace(cfg.Script)
		if script == "" {
			return nil, errors.New("job.script is required in python mode")
		}
		argv = append(interp, script)
	case ModeBinary:
		bin := strings.TrimSpace(cfg.Binary)
		if bin == "" {
			return nil, errors.New("job.binary is required in exe mode")
		}
		argv = []string{bin}
	default:
		return nil, fmt.Errorf("job.mode: unknown mode %q", cfg.Mode)
	}

	if strings.TrimSpace(cfg.Args) != "" {
		extra, err := shellquote.Split(cfg.Args)
		if err != nil {
			return nil, fmt.Errorf("job.args: %w", err)
		}
		argv = append(argv, extra...)
	}
	return argv, nil
}

// Run launches the job for slot and blocks until it exits, times out or ctx is canceled.
func (inv *Invoker) Run(ctx context.Context, slot string) Outcome {
	inv.mu.Lock()
	cfg := inv.cfg
	argv := append([]string(nil), inv.argv...)
	inv.mu.Unlock()

	log := inv.log.With(logx.String("slot", slot))
	log.Info("starting job", logx.Strings("argv", argv), logx.Duration("timeout", cfg.Timeout))

	out := inv.exec(ctx, cfg, argv, slot)
	logOutcome(log, out, cfg.OutputLimit)
	return out
}

func (inv *Invoker) exec(ctx context.Context, cfg Config, argv []string, slot string) (out Outcome) {
	start := time.Now()
	out = Outcome{Slot: slot, ExitCode: -1, StartedAt: start}

	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusError
			out.Err = fmt.Errorf("panic while running job: %v", r)
			out.Duration = time.Since(start)
			inv.log.Error("job invoker panicked", logx.String("slot", slot), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	if len(argv) == 0 {
		out.Status = StatusError
		out.Err = errors.New("no command configured")
		return out
	}

	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = strings.TrimSpace(cfg.Dir)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	killTree(cmd)
	// Bounds Wait when a process outside the group still holds the pipes.
	cmd.WaitDelay = waitDelay

	stdout := &cappedBuffer{max: captureLimit}
	stderr := &cappedBuffer{max: captureLimit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	out.Duration = time.Since(start)
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		out.Status = StatusOK
		out.ExitCode = 0
	case cfg.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		out.Status = StatusTimeout
		out.Err = fmt.Errorf("job exceeded timeout %s: %w", cfg.Timeout, err)
	case ctx.Err() != nil:
		out.Status = StatusError
		out.Err = fmt.Errorf("job interrupted: %w", ctx.Err())
	case errors.As(err, &exitErr):
		out.Status = StatusFailed
		out.ExitCode = exitErr.ExitCode()
		out.Err = err
	default:
		out.Status = StatusError
		out.Err = err
	}
	return out
}

func logOutcome(log logx.Logger, out Outcome, limit int) {
	if s := strings.TrimSpace(out.Stdout); s != "" {
		log.Info("job stdout", logx.String("output", truncate(s, limit)))
	}
	if s := strings.TrimSpace(out.Stderr); s != "" {
		if out.OK() {
			log.Info("job stderr", logx.String("output", truncate(s, limit)))
		} else {
			log.Warn("job stderr", logx.String("output", truncate(s, limit)))
		}
	}

	fields := []logx.Field{
		logx.String("status", string(out.Status)),
		logx.Int("exit_code", out.ExitCode),
		logx.Duration("took", out.Duration),
	}
	switch out.Status {
	case StatusOK:
		log.Info("job finished OK", fields...)
	case StatusFailed:
		log.Error("job FAILED", fields...)
	default:
		log.Error("job crashed", append(fields, logx.Err(out.Err))...)
	}
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 32 {
		return s[:maxN]
	}
	return s[:maxN] + fmt.Sprintf("\n... [%d bytes truncated]", len(s)-maxN)
}

// cappedBuffer keeps the first max bytes written and counts the rest.
type cappedBuffer struct {
	max     int
	buf     bytes.Buffer
	dropped int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.buf.Len()
	if room <= 0 {
		b.dropped += int64(len(p))
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.dropped += int64(len(p) - room)
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.dropped > 0 {
		return b.buf.String() + fmt.Sprintf("\n... [%d bytes not captured]", b.dropped)
	}
	return b.buf.String()
}
