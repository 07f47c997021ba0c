package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"reportd/internal/job"
	"reportd/internal/schedule"
)

// MinCooldown mirrors schedule.MinCooldown for config validation.
var MinCooldown = schedule.MinCooldown

var validate = validator.New()

// Validate checks a fully defaulted config. It runs the struct tag rules first,
// then the checks tags cannot express (slot syntax, durations, time zone).
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	if _, err := schedule.ParseSlotList(cfg.Schedule.RunTimes); err != nil {
		errs = append(errs, fmt.Errorf("schedule.run_times: %w", err))
	}
	if _, err := ParseDurationField("schedule.poll_interval", cfg.Schedule.PollInterval); err != nil {
		errs = append(errs, err)
	}
	if d, err := ParseDurationField("schedule.cooldown", cfg.Schedule.Cooldown); err != nil {
		errs = append(errs, err)
	} else if d < MinCooldown {
		errs = append(errs, fmt.Errorf("schedule.cooldown: must be at least %s so a slot minute is never matched twice", MinCooldown))
	}
	if _, err := ParseDurationField("schedule.match_window", cfg.Schedule.MatchWindow); err != nil {
		errs = append(errs, err)
	}
	if _, err := schedule.LoadLocation(cfg.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
	}

	if _, err := job.ParseMode(cfg.Job.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("job.timeout", cfg.Job.Timeout); err != nil {
		errs = append(errs, err)
	}
	for k := range cfg.Job.Env {
		if strings.TrimSpace(k) == "" || strings.Contains(k, "=") {
			errs = append(errs, fmt.Errorf("job.env: invalid variable name %q", k))
		}
	}

	if strings.TrimSpace(cfg.State.Dir) == "" && cfg.State.Driver != "memory" {
		errs = append(errs, errors.New("state.dir is required"))
	}
	if _, err := ParseDurationField("state.busy_timeout", cfg.State.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if n := cfg.Notify; n != nil {
		if n.Telegram.Enabled {
			if strings.TrimSpace(n.Telegram.Token) == "" {
				errs = append(errs, errors.New("notify.telegram.token is required when telegram is enabled"))
			}
			if n.Telegram.ChatID == 0 {
				errs = append(errs, errors.New("notify.telegram.chat_id is required when telegram is enabled"))
			}
		}
		if _, err := ParseDurationField("notify.send_timeout", n.SendTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
