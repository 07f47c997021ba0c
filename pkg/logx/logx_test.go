package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestZeroLoggerDiscards(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	l.Error("dropped", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop should not be the zero value")
	}
}

func TestJSONFieldsAndCaller(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "info").With(String("comp", "scheduler"))
	log.Debug("hidden")
	log.Warn("persist failed", Err(errors.New("disk full")), Err(nil), Strings("ids", []string{"08:00"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if ev["comp"] != "scheduler" || ev["err"] != "disk full" || ev["level"] != "warn" {
		t.Fatalf("event = %v", ev)
	}
	if caller, _ := ev["caller"].(string); !strings.HasPrefix(caller, "logx_test.go:") {
		t.Fatalf("caller = %q", ev["caller"])
	}
}

func TestServiceApplySwitchesFile(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a", "runner.log")
	second := filepath.Join(dir, "b", "runner.log")

	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first, Format: "text"}})
	defer svc.Close()
	log.Info("job finished", String("slot", "08:00"))

	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: second}})
	log.Info("job finished", String("slot", "13:00"))
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	if s := string(a); !strings.Contains(s, "job finished") || !strings.Contains(s, "slot=08:00") || strings.Contains(s, "{") {
		t.Fatalf("text log = %q", s)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if s := string(b); !strings.Contains(s, `"slot":"13:00"`) || strings.Contains(s, "08:00") {
		t.Fatalf("json log = %q", s)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{"": "info", "WARNING": "warn", " debug ": "debug", "bogus": "info", "trace": "trace"}
	for in, want := range tests {
		if got := parseLevel(in, parseLevel("info", 0)).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
