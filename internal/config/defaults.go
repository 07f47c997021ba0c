package config

import (
	"path/filepath"
	"strings"
)

// Built-in defaults. They match the behavior of the runner when nothing is configured.
const (
	DefaultRunTimes     = "08:00,13:00"
	DefaultPollInterval = "20s"
	DefaultCooldown     = "65s"
	DefaultMatchWindow  = "0s"

	DefaultMode        = "python"
	DefaultInterpreter = "python"
	DefaultScript      = "./scripts/get_servicenow_data.py"
	DefaultBinary      = "./scripts/get_servicenow_data"
	DefaultJobTimeout  = "2h"
	DefaultOutputLimit = 16 << 10

	DefaultStateDriver = "file"
	DefaultStateDir    = "./state"
	DefaultRetainDays  = 30
	DefaultLogFileName = "runner.log"

	DefaultStatusAddr = "127.0.0.1:8787"
)

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every omitted field. It runs after file and env so that
// derived defaults (the log path under state.dir) see the final values.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Schedule
	if len(s.RunTimes) == 0 {
		s.RunTimes = SplitList(DefaultRunTimes)
	}
	if s.CatchUp == nil {
		s.CatchUp = boolPtr(true)
	}
	s.PollInterval = orDefault(s.PollInterval, DefaultPollInterval)
	s.Cooldown = orDefault(s.Cooldown, DefaultCooldown)
	s.MatchWindow = orDefault(s.MatchWindow, DefaultMatchWindow)

	j := &cfg.Job
	j.Mode = strings.ToLower(orDefault(j.Mode, DefaultMode))
	j.Interpreter = orDefault(j.Interpreter, DefaultInterpreter)
	j.Script = orDefault(j.Script, DefaultScript)
	j.Binary = orDefault(j.Binary, DefaultBinary)
	j.Timeout = orDefault(j.Timeout, DefaultJobTimeout)
	if j.OutputLimit == 0 {
		j.OutputLimit = DefaultOutputLimit
	}

	st := &cfg.State
	st.Driver = strings.ToLower(orDefault(st.Driver, DefaultStateDriver))
	st.Dir = orDefault(st.Dir, DefaultStateDir)
	if st.RetainDays == nil {
		st.RetainDays = intPtr(DefaultRetainDays)
	}

	l := &cfg.Logging
	l.Level = strings.ToLower(orDefault(l.Level, "info"))
	if l.Console == nil {
		l.Console = boolPtr(true)
	}
	if l.File.Enabled == nil {
		l.File.Enabled = boolPtr(true)
	}
	l.File.Path = orDefault(l.File.Path, filepath.Join(st.Dir, DefaultLogFileName))
	l.File.Format = strings.ToLower(orDefault(l.File.Format, "json"))

	if n := cfg.Notify; n != nil {
		if n.RatePerMinute == 0 {
			n.RatePerMinute = 20
		}
		if n.QueueSize == 0 {
			n.QueueSize = 32
		}
		n.SendTimeout = orDefault(n.SendTimeout, "15s")
	}

	if st := cfg.Status; st != nil && st.Enabled {
		st.Addr = orDefault(st.Addr, DefaultStatusAddr)
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
