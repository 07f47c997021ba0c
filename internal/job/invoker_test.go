package job

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	logx "reportd/pkg/logx"
)

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func shellJob(t *testing.T, script string) Config {
	return Config{
		Mode:   ModeBinary,
		Binary: requireShell(t),
		Args:   "-c " + quote(script),
	}
}

func quote(s string) string { return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'" }

func TestBuildArgv(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "interpreter",
			cfg:  Config{Mode: ModeInterpreter, Interpreter: "python", Script: "get_data.py"},
			want: []string{"python", "get_data.py"},
		},
		{
			name: "interpreter with flags",
			cfg:  Config{Mode: ModeInterpreter, Interpreter: "py -3 -u", Script: `C:\jobs\get data.py`},
			want: []string{"py", "-3", "-u", `C:\jobs\get data.py`},
		},
		{
			name: "binary with args",
			cfg:  Config{Mode: ModeBinary, Binary: "/opt/report/run", Args: `--out "/tmp/my report.xlsx"`},
			want: []string{"/opt/report/run", "--out", "/tmp/my report.xlsx"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildArgv(tt.cfg)
			if err != nil {
				t.Fatalf("BuildArgv error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("argv = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildArgvRejectsIncompleteConfig(t *testing.T) {
	t.Parallel()
	bad := []Config{
		{Mode: ModeInterpreter, Interpreter: "python"},
		{Mode: ModeInterpreter, Script: "x.py"},
		{Mode: ModeBinary},
		{Mode: "perl", Binary: "x"},
		{Mode: ModeBinary, Binary: "x", Args: `"unterminated`},
	}
	for i, cfg := range bad {
		if _, err := BuildArgv(cfg); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, cfg)
		}
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	if m, err := ParseMode("exe"); err != nil || m != ModeBinary {
		t.Fatalf("ParseMode(exe) = %v, %v", m, err)
	}
	if m, err := ParseMode(""); err != nil || m != ModeInterpreter {
		t.Fatalf("ParseMode(\"\") = %v, %v", m, err)
	}
	if _, err := ParseMode("jar"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestRunSuccessCapturesStdout(t *testing.T) {
	t.Parallel()
	inv, err := New(shellJob(t, "echo report written"), logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	out := inv.Run(context.Background(), "08:00")
	if !out.OK() || out.ExitCode != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if strings.TrimSpace(out.Stdout) != "report written" {
		t.Fatalf("stdout = %q", out.Stdout)
	}
	if out.Slot != "08:00" || out.Duration <= 0 || out.StartedAt.IsZero() {
		t.Fatalf("metadata not filled: %+v", out)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	inv, err := New(shellJob(t, "echo boom >&2; exit 3"), logx.NewJSON(&buf, "debug"))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	out := inv.Run(context.Background(), "13:00")
	if out.Status != StatusFailed || out.ExitCode != 3 {
		t.Fatalf("outcome = %+v", out)
	}
	if strings.TrimSpace(out.Stderr) != "boom" {
		t.Fatalf("stderr = %q", out.Stderr)
	}
	logs := buf.String()
	if !strings.Contains(logs, "job FAILED") || !strings.Contains(logs, `"exit_code":3`) {
		t.Fatalf("failure not logged with exit code:\n%s", logs)
	}
}

func TestRunSpawnErrorBecomesOutcome(t *testing.T) {
	t.Parallel()
	inv, err := New(Config{Mode: ModeBinary, Binary: filepath.Join(t.TempDir(), "missing-binary")}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	out := inv.Run(context.Background(), "08:00")
	if out.Status != StatusError || out.Err == nil || out.ExitCode != -1 {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()
	cfg := shellJob(t, "sleep 5")
	cfg.Timeout = 100 * time.Millisecond
	inv, err := New(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	start := time.Now()
	out := inv.Run(context.Background(), "08:00")
	if out.Status != StatusTimeout {
		t.Fatalf("status = %s (%v)", out.Status, out.Err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout not enforced, took %s", time.Since(start))
	}
}

func TestApplySwapsCommand(t *testing.T) {
	t.Parallel()
	inv, err := New(Config{Mode: ModeBinary, Binary: "/bin/a"}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := inv.Apply(Config{Mode: ModeBinary, Binary: "/bin/b", Args: "x"}); err != nil {
		t.Fatal(err)
	}
	if got := inv.Command(); !reflect.DeepEqual(got, []string{"/bin/b", "x"}) {
		t.Fatalf("Command = %q", got)
	}
	if err := inv.Apply(Config{Mode: ModeBinary}); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
	if got := inv.Command(); got[0] != "/bin/b" {
		t.Fatalf("rejected Apply changed command: %q", got)
	}
}

func TestTruncateAndCappedBuffer(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 100)
	if got := truncate(long, 40); !strings.HasPrefix(got, strings.Repeat("x", 40)) || !strings.Contains(got, "60 bytes truncated") {
		t.Fatalf("truncate = %q", got)
	}
	b := &cappedBuffer{max: 4}
	_, _ = b.Write([]byte("abcdef"))
	_, _ = b.Write([]byte("gh"))
	if got := b.String(); !strings.HasPrefix(got, "abcd") || !strings.Contains(got, "4 bytes not captured") {
		t.Fatalf("capped = %q", got)
	}
}

func TestOutcomeSummary(t *testing.T) {
	t.Parallel()
	out := Outcome{Slot: "13:00", Status: StatusFailed, ExitCode: 2, Duration: 1500 * time.Millisecond}
	if got := out.Summary(); got != "slot 13:00 FAILED with code 2 after 1.5s" {
		t.Fatalf("Summary = %q", got)
	}
}
