package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every override variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range EnvKeys {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	cfg, err := NewConfigManager("").Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !reflect.DeepEqual([]string(cfg.Schedule.RunTimes), []string{"08:00", "13:00"}) {
		t.Fatalf("run_times = %v", cfg.Schedule.RunTimes)
	}
	if !BoolOr(cfg.Schedule.CatchUp, false) {
		t.Fatal("catch_up should default to true")
	}
	if cfg.Schedule.Cooldown != "65s" || cfg.Schedule.PollInterval != "20s" || cfg.Schedule.MatchWindow != "0s" {
		t.Fatalf("schedule durations = %+v", cfg.Schedule)
	}
	if cfg.Job.Mode != "python" || cfg.Job.Interpreter != "python" || cfg.Job.Timeout != "2h" {
		t.Fatalf("job = %+v", cfg.Job)
	}
	if cfg.State.Driver != "file" || *cfg.State.RetainDays != 30 {
		t.Fatalf("state = %+v", cfg.State)
	}
	if want := filepath.Join("state", "runner.log"); filepath.Clean(cfg.Logging.File.Path) != want {
		t.Fatalf("log path = %q, want %q", cfg.Logging.File.Path, want)
	}
	if cfg.Notify != nil || cfg.Status != nil {
		t.Fatal("optional sections should stay nil")
	}
}

func TestDecodeFormats(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	files := map[string]string{
		"c.yaml": "schedule:\n  run_times: [\"13:00\", \"07:30\"]\n  catch_up: false\njob:\n  mode: exe\n  binary: /opt/report\nstate:\n  dir: " + dir + "\n",
		"c.toml": "[schedule]\nrun_times = \"13:00,07:30\"\ncatch_up = false\n[job]\nmode = \"exe\"\nbinary = \"/opt/report\"\n[state]\ndir = \"" + filepath.ToSlash(dir) + "\"\n",
		"c.json": `{"schedule":{"run_times":"13:00, 07:30","catch_up":false},"job":{"mode":"exe","binary":"/opt/report"},"state":{"dir":"` + filepath.ToSlash(dir) + `"}}`,
	}
	for name, body := range files {
		path := writeFile(t, dir, name, body)
		cfg, err := NewConfigManager(path).Load()
		if err != nil {
			t.Fatalf("%s: Load error: %v", name, err)
		}
		if !reflect.DeepEqual([]string(cfg.Schedule.RunTimes), []string{"13:00", "07:30"}) {
			t.Fatalf("%s: run_times = %v", name, cfg.Schedule.RunTimes)
		}
		if BoolOr(cfg.Schedule.CatchUp, true) {
			t.Fatalf("%s: catch_up should be false", name)
		}
		if cfg.Job.Mode != "exe" || cfg.Job.Binary != "/opt/report" {
			t.Fatalf("%s: job = %+v", name, cfg.Job)
		}
		if cfg.Logging.File.Path != filepath.Join(filepath.ToSlash(dir), "runner.log") {
			t.Fatalf("%s: log path = %q", name, cfg.Logging.File.Path)
		}
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.yaml", []byte("schedule:\n  run_time: \"08:00\"\n")); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
	if _, err := Decode("c.json", []byte(`{"job":{}}{"job":{}}`)); err == nil {
		t.Fatal("expected trailing data to be rejected")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "c.yaml", "schedule:\n  run_times: \"08:00\"\n  catch_up: true\nstate:\n  dir: "+dir+"\n")

	t.Setenv("RUN_TIMES", "09:30, 17:45")
	t.Setenv("CATCH_UP", "false")
	t.Setenv("RUN_MODE", "exe")
	t.Setenv("EXE_PATH", "/usr/local/bin/report")
	t.Setenv("JOB_TIMEOUT", "30m")
	t.Setenv("LOG_FILE", filepath.Join(dir, "custom.log"))
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100200300")
	t.Setenv("STATUS_ADDR", "127.0.0.1:9999")

	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !reflect.DeepEqual([]string(cfg.Schedule.RunTimes), []string{"09:30", "17:45"}) {
		t.Fatalf("run_times = %v", cfg.Schedule.RunTimes)
	}
	if BoolOr(cfg.Schedule.CatchUp, true) {
		t.Fatal("CATCH_UP=false not applied")
	}
	if cfg.Job.Mode != "exe" || cfg.Job.Binary != "/usr/local/bin/report" || cfg.Job.Timeout != "30m" {
		t.Fatalf("job = %+v", cfg.Job)
	}
	if cfg.Logging.File.Path != filepath.Join(dir, "custom.log") {
		t.Fatalf("log path = %q", cfg.Logging.File.Path)
	}
	if cfg.Notify == nil || !cfg.Notify.Telegram.Enabled || cfg.Notify.Telegram.ChatID != -100200300 {
		t.Fatalf("notify = %+v", cfg.Notify)
	}
	if cfg.Status == nil || !cfg.Status.Enabled || cfg.Status.Addr != "127.0.0.1:9999" {
		t.Fatalf("status = %+v", cfg.Status)
	}
}

func TestInvalidEnvValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("CATCH_UP", "maybe")
	if _, err := NewConfigManager("").Load(); err == nil {
		t.Fatal("expected CATCH_UP=maybe to fail")
	}
}

func TestDotenvNeverOverridesEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, ".env", "RUN_TIMES=10:00\nPY_SCRIPT=/from/dotenv.py\n")
	t.Setenv("RUN_TIMES", "11:00")

	if err := LoadDotenv(path); err != nil {
		t.Fatalf("LoadDotenv error: %v", err)
	}
	if got := os.Getenv("RUN_TIMES"); got != "11:00" {
		t.Fatalf("RUN_TIMES = %q, real environment must win", got)
	}
	if got := os.Getenv("PY_SCRIPT"); got != "/from/dotenv.py" {
		t.Fatalf("PY_SCRIPT = %q, .env should fill unset variables", got)
	}
	if err := LoadDotenv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing .env should be ignored, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{"bad slot", func(c *Config) { c.Schedule.RunTimes = SlotList{"08:00", "25:99"} }, "run_times"},
		{"short cooldown", func(c *Config) { c.Schedule.Cooldown = "30s" }, "cooldown"},
		{"negative poll", func(c *Config) { c.Schedule.PollInterval = "-5s" }, "poll_interval"},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Nowhere/City" }, "timezone"},
		{"bad mode", func(c *Config) { c.Job.Mode = "perl" }, "Mode"},
		{"bad driver", func(c *Config) { c.State.Driver = "redis" }, "Driver"},
		{"bad log format", func(c *Config) { c.Logging.File.Format = "xml" }, "Format"},
		{"telegram without token", func(c *Config) {
			c.Notify = &NotifyConfig{Telegram: TelegramConfig{Enabled: true, ChatID: 1}}
		}, "token"},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mut(cfg)
		err := Validate(cfg)
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: error %q does not mention %q", tt.name, err, tt.want)
		}
	}
	if err := Validate(Default()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestSlotListAcceptsStringOrList(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{`{"schedule":{"run_times":"08:00,13:00"}}`, `{"schedule":{"run_times":["08:00","13:00"]}}`} {
		cfg, err := Decode("c.json", []byte(doc))
		if err != nil {
			t.Fatalf("Decode(%s): %v", doc, err)
		}
		if len(cfg.Schedule.RunTimes) != 2 {
			t.Fatalf("Decode(%s) run_times = %v", doc, cfg.Schedule.RunTimes)
		}
	}
	if _, err := Decode("c.json", []byte(`{"schedule":{"run_times":8}}`)); err == nil {
		t.Fatal("expected a number to be rejected")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	clearEnv(t)
	oldCfg := Default()
	newCfg := Default()
	newCfg.Schedule.RunTimes = SlotList{"09:00"}
	newCfg.State.Dir = "/var/lib/reportd"
	newCfg.Notify = &NotifyConfig{Telegram: TelegramConfig{Enabled: true, Token: "secret-token", ChatID: 5}}

	changed, _, restart := SummarizeConfigChange(oldCfg, newCfg)
	if !reflect.DeepEqual(changed, []string{"notify", "schedule", "state"}) {
		t.Fatalf("changed = %v", changed)
	}
	if !reflect.DeepEqual(restart, []string{"state"}) {
		t.Fatalf("restart = %v", restart)
	}

	same, _, _ := SummarizeConfigChange(oldCfg, Default())
	if len(same) != 0 {
		t.Fatalf("identical configs reported changes: %v", same)
	}
}

func TestWatchPublishesValidEditsOnly(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "reportd.yaml", "schedule:\n  run_times: \"08:00\"\nstate:\n  dir: "+dir+"\n")

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	// Let the watcher register before editing.
	time.Sleep(200 * time.Millisecond)

	writeFile(t, dir, "reportd.yaml", "schedule:\n  run_times: \"25:99\"\nstate:\n  dir: "+dir+"\n")
	time.Sleep(600 * time.Millisecond)
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config was published: %v", cfg.Schedule.RunTimes)
	default:
	}

	writeFile(t, dir, "reportd.yaml", "schedule:\n  run_times: \"09:15\"\nstate:\n  dir: "+dir+"\n")
	select {
	case cfg := <-ch:
		if !reflect.DeepEqual([]string(cfg.Schedule.RunTimes), []string{"09:15"}) {
			t.Fatalf("published run_times = %v", cfg.Schedule.RunTimes)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if got := m.Get(); !reflect.DeepEqual([]string(got.Schedule.RunTimes), []string{"09:15"}) {
		t.Fatalf("Get() = %v", got.Schedule.RunTimes)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("garbage duration accepted")
	}
}
