package app

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"reportd/internal/config"
	"reportd/internal/job"
	"reportd/internal/notifier"
	"reportd/internal/observability/status"
	"reportd/internal/runstate"
	"reportd/internal/schedule"
	kit "reportd/internal/transport"
	logx "reportd/pkg/logx"
)

func mapScheduleConfig(cfg *config.Config) (schedule.Config, *time.Location, error) {
	sc := cfg.Schedule
	slots, err := schedule.ParseSlotList(sc.RunTimes)
	if err != nil {
		return schedule.Config{}, nil, fmt.Errorf("schedule.run_times: %w", err)
	}
	poll, err := config.ParseDurationOrDefault("schedule.poll_interval", sc.PollInterval, schedule.DefaultPollInterval)
	if err != nil {
		return schedule.Config{}, nil, err
	}
	cooldown, err := config.ParseDurationOrDefault("schedule.cooldown", sc.Cooldown, schedule.DefaultCooldown)
	if err != nil {
		return schedule.Config{}, nil, err
	}
	window, err := config.ParseDurationField("schedule.match_window", sc.MatchWindow)
	if err != nil {
		return schedule.Config{}, nil, err
	}
	loc, err := schedule.LoadLocation(sc.Timezone)
	if err != nil {
		return schedule.Config{}, nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	retain := config.DefaultRetainDays
	if cfg.State.RetainDays != nil {
		retain = *cfg.State.RetainDays
	}
	return schedule.Config{
		Slots:        slots,
		CatchUp:      config.BoolOr(sc.CatchUp, true),
		PollInterval: poll,
		Cooldown:     cooldown,
		MatchWindow:  window,
		RetainDays:   retain,
	}, loc, nil
}

func mapJobConfig(cfg *config.Config) (job.Config, error) {
	jc := cfg.Job
	mode, err := job.ParseMode(jc.Mode)
	if err != nil {
		return job.Config{}, err
	}
	timeout, err := config.ParseDurationField("job.timeout", jc.Timeout)
	if err != nil {
		return job.Config{}, err
	}

	keys := make([]string, 0, len(jc.Env))
	for k := range jc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+jc.Env[k])
	}

	return job.Config{
		Mode:        mode,
		Interpreter: jc.Interpreter,
		Script:      jc.Script,
		Binary:      jc.Binary,
		Args:        jc.Args,
		Dir:         jc.Workdir,
		Env:         env,
		Timeout:     timeout,
		OutputLimit: jc.OutputLimit,
	}, nil
}

func mapStateConfig(cfg *config.Config) (runstate.Config, error) {
	busy, err := config.ParseDurationField("state.busy_timeout", cfg.State.BusyTimeout)
	if err != nil {
		return runstate.Config{}, err
	}
	return runstate.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.State.Driver)),
		Dir:         cfg.State.Dir,
		BusyTimeout: busy,
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: config.BoolOr(l.Console, true),
		File: logx.FileConfig{
			Enabled: config.BoolOr(l.File.Enabled, true),
			Path:    l.File.Path,
			Format:  l.File.Format,
		},
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notify
	if n == nil {
		return notifier.Config{}, nil
	}
	timeout, err := config.ParseDurationField("notify.send_timeout", n.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	host, _ := os.Hostname()
	return notifier.Config{
		Enabled:       n.Telegram.Enabled,
		OnSuccess:     n.OnSuccess,
		Target:        kit.ChatTarget{ChatID: n.Telegram.ChatID, ThreadID: n.Telegram.ThreadID},
		Channel:       "telegram",
		QueueSize:     n.QueueSize,
		RatePerMinute: n.RatePerMinute,
		RetryMax:      2,
		SendTimeout:   timeout,
		Host:          host,
	}, nil
}

func mapStatusConfig(cfg *config.Config) status.Config {
	s := cfg.Status
	if s == nil {
		return status.Config{}
	}
	return status.Config{
		Enabled:       s.Enabled,
		Addr:          s.Addr,
		Token:         s.Token,
		AllowInsecure: s.AllowInsecure,
		Pprof:         s.Pprof,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  45 * time.Second, // covers a 30s CPU profile
		IdleTimeout:   60 * time.Second,
	}
}

// telegramKey identifies the sender a config needs; a change means a new client.
func telegramKey(cfg *config.Config) string {
	if cfg.Notify == nil || !cfg.Notify.Telegram.Enabled {
		return ""
	}
	return strings.TrimSpace(cfg.Notify.Telegram.Token)
}
