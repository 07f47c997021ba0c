package config

import (
	"reflect"
	"sort"
	"strings"

	logx "reportd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes tokens), and
// (3) the changed settings that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)
	var restart []string

	oldS, newS := oldCfg.Schedule, newCfg.Schedule
	if !reflect.DeepEqual(oldS.RunTimes, newS.RunTimes) ||
		BoolOr(oldS.CatchUp, true) != BoolOr(newS.CatchUp, true) ||
		oldS.PollInterval != newS.PollInterval ||
		oldS.Cooldown != newS.Cooldown ||
		oldS.MatchWindow != newS.MatchWindow ||
		strings.TrimSpace(oldS.Timezone) != strings.TrimSpace(newS.Timezone) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Strings("schedule.run_times", newS.RunTimes),
			logx.String("schedule.poll_interval", newS.PollInterval),
			logx.String("schedule.cooldown", newS.Cooldown),
			logx.String("schedule.match_window", newS.MatchWindow),
			logx.String("schedule.timezone", newS.Timezone),
		)
		if BoolOr(oldS.CatchUp, true) != BoolOr(newS.CatchUp, true) {
			// Catch-up only runs at startup.
			restart = append(restart, "schedule.catch_up")
		}
		if strings.TrimSpace(oldS.Timezone) != strings.TrimSpace(newS.Timezone) {
			restart = append(restart, "schedule.timezone")
		}
	}

	if !reflect.DeepEqual(oldCfg.Job, newCfg.Job) {
		changed = append(changed, "job")
		attrs = append(attrs,
			logx.String("job.mode", newCfg.Job.Mode),
			logx.String("job.timeout", newCfg.Job.Timeout),
			logx.Int("job.env_count", len(newCfg.Job.Env)),
		)
	}

	ost, nst := oldCfg.State, newCfg.State
	if ost.Driver != nst.Driver || ost.Dir != nst.Dir || ost.BusyTimeout != nst.BusyTimeout {
		changed = append(changed, "state")
		restart = append(restart, "state")
		attrs = append(attrs, logx.String("state.driver", nst.Driver), logx.String("state.dir", nst.Dir))
	} else if !reflect.DeepEqual(ost.RetainDays, nst.RetainDays) {
		changed = append(changed, "state")
		restart = append(restart, "state.retain_days")
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", BoolOr(newCfg.Logging.Console, true)),
			logx.Bool("logging.file_enabled", BoolOr(newCfg.Logging.File.Enabled, true)),
			logx.String("logging.file_format", newCfg.Logging.File.Format),
		)
	}

	on, nn := derefNotify(oldCfg.Notify), derefNotify(newCfg.Notify)
	if !reflect.DeepEqual(on, nn) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.telegram_enabled", nn.Telegram.Enabled),
			logx.Bool("notify.telegram_token_set", strings.TrimSpace(nn.Telegram.Token) != ""),
			logx.Bool("notify.on_success", nn.OnSuccess),
			logx.Int("notify.rate_per_minute", nn.RatePerMinute),
		)
	}

	ox, nx := derefStatus(oldCfg.Status), derefStatus(newCfg.Status)
	if !reflect.DeepEqual(ox, nx) {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", nx.Enabled),
			logx.String("status.addr", nx.Addr),
			logx.Bool("status.token_set", strings.TrimSpace(nx.Token) != ""),
			logx.Bool("status.pprof", nx.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs, restart
}

func derefNotify(n *NotifyConfig) NotifyConfig {
	if n == nil {
		return NotifyConfig{}
	}
	return *n
}

func derefStatus(s *StatusConfig) StatusConfig {
	if s == nil {
		return StatusConfig{}
	}
	return *s
}
