package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Config is the file/env configuration of the runner.
//
// All durations are Go duration strings ("20s", "2h"). Pointer fields distinguish
// "omitted" from an explicit zero so defaults can be applied afterwards.
type Config struct {
	Schedule ScheduleConfig `json:"schedule"`
	Job      JobConfig      `json:"job"`
	State    StateConfig    `json:"state"`
	Logging  LoggingConfig  `json:"logging"`

	Notify *NotifyConfig `json:"notify,omitempty"`
	Status *StatusConfig `json:"status,omitempty"`
}

type ScheduleConfig struct {
	// RunTimes accepts either a list or a comma-separated string.
	RunTimes SlotList `json:"run_times"`
	CatchUp  *bool    `json:"catch_up,omitempty"`

	PollInterval string `json:"poll_interval,omitempty"`
	Cooldown     string `json:"cooldown,omitempty"`
	MatchWindow  string `json:"match_window,omitempty"`

	// Timezone is an IANA name, e.g. "Europe/London". Empty means the host zone.
	Timezone string `json:"timezone,omitempty"`
}

type JobConfig struct {
	Mode        string `json:"mode" validate:"omitempty,oneof=python exe interpreter script binary"`
	Interpreter string `json:"interpreter,omitempty"`
	Script      string `json:"script,omitempty"`
	Binary      string `json:"binary,omitempty"`
	Args        string `json:"args,omitempty"`
	Workdir     string `json:"workdir,omitempty"`

	Env map[string]string `json:"env,omitempty"`

	// Timeout of "0s" disables the kill timer.
	Timeout     string `json:"timeout,omitempty"`
	OutputLimit int    `json:"output_limit,omitempty" validate:"gte=0"`
}

// StateConfig selects the run-state store. Changes require a restart.
type StateConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=file sqlite sqlite3 memory"`
	Dir         string `json:"dir"`
	RetainDays  *int   `json:"retain_days,omitempty" validate:"omitempty,gte=0"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Path    string `json:"path"`
	Format  string `json:"format,omitempty" validate:"omitempty,oneof=json text"`
}

// NotifyConfig controls job outcome alerts.
type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`

	// OnSuccess also alerts for successful runs. Failures are always sent.
	OnSuccess bool `json:"on_success,omitempty"`

	RatePerMinute int    `json:"rate_per_minute,omitempty" validate:"gte=0"`
	QueueSize     int    `json:"queue_size,omitempty" validate:"gte=0"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"` // never logged
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty" validate:"gte=0"`
}

// StatusConfig controls the optional HTTP status server.
//
// Prefer a loopback address. A non-loopback bind needs Token or AllowInsecure.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// SlotList is a list of "HH:MM" values. It decodes from a JSON array or from a
// single comma-separated string.
type SlotList []string

func (s *SlotList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}
	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		*s = SplitList(raw)
		return nil
	}
	var items []string
	if err := json.Unmarshal(b, &items); err != nil {
		return fmt.Errorf("run_times: want a list or a comma-separated string: %w", err)
	}
	*s = items
	return nil
}

// SplitList splits a comma-separated value, trimming entries and dropping blanks.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }

// BoolOr returns *p, or def when p is nil.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
