package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envOverrides lists the environment variables that override file settings.
// Pointer fields stay nil when the variable is unset.
type envOverrides struct {
	RunTimes     *string `envconfig:"RUN_TIMES"`
	CatchUp      *bool   `envconfig:"CATCH_UP"`
	PollInterval *string `envconfig:"POLL_INTERVAL"`
	Cooldown     *string `envconfig:"COOLDOWN"`
	MatchWindow  *string `envconfig:"MATCH_WINDOW"`
	Timezone     *string `envconfig:"TZ_NAME"`

	Mode        *string `envconfig:"RUN_MODE"`
	Interpreter *string `envconfig:"PYTHON_EXE"`
	Script      *string `envconfig:"PY_SCRIPT"`
	Binary      *string `envconfig:"EXE_PATH"`
	Args        *string `envconfig:"JOB_ARGS"`
	Workdir     *string `envconfig:"JOB_WORKDIR"`
	Timeout     *string `envconfig:"JOB_TIMEOUT"`
	OutputLimit *int    `envconfig:"JOB_OUTPUT_LIMIT"`

	StateDriver *string `envconfig:"STATE_DRIVER"`
	StateDir    *string `envconfig:"STATE_DIR"`
	RetainDays  *int    `envconfig:"STATE_RETAIN_DAYS"`

	LogLevel *string `envconfig:"LOG_LEVEL"`
	LogFile  *string `envconfig:"LOG_FILE"`

	TelegramToken  *string `envconfig:"TELEGRAM_TOKEN"`
	TelegramChatID *string `envconfig:"TELEGRAM_CHAT_ID"`

	StatusAddr *string `envconfig:"STATUS_ADDR"`
}

// LoadDotenv loads KEY=VALUE pairs from path into the process environment.
// Variables already set are left alone. A missing file is not an error.
func LoadDotenv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var ov envOverrides
	if err := envconfig.Process("", &ov); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	setStr := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}

	if ov.RunTimes != nil {
		cfg.Schedule.RunTimes = SplitList(*ov.RunTimes)
	}
	if ov.CatchUp != nil {
		cfg.Schedule.CatchUp = boolPtr(*ov.CatchUp)
	}
	setStr(&cfg.Schedule.PollInterval, ov.PollInterval)
	setStr(&cfg.Schedule.Cooldown, ov.Cooldown)
	setStr(&cfg.Schedule.MatchWindow, ov.MatchWindow)
	setStr(&cfg.Schedule.Timezone, ov.Timezone)

	setStr(&cfg.Job.Mode, ov.Mode)
	setStr(&cfg.Job.Interpreter, ov.Interpreter)
	setStr(&cfg.Job.Script, ov.Script)
	setStr(&cfg.Job.Binary, ov.Binary)
	setStr(&cfg.Job.Args, ov.Args)
	setStr(&cfg.Job.Workdir, ov.Workdir)
	setStr(&cfg.Job.Timeout, ov.Timeout)
	if ov.OutputLimit != nil {
		cfg.Job.OutputLimit = *ov.OutputLimit
	}

	setStr(&cfg.State.Driver, ov.StateDriver)
	setStr(&cfg.State.Dir, ov.StateDir)
	if ov.RetainDays != nil {
		cfg.State.RetainDays = intPtr(*ov.RetainDays)
	}

	setStr(&cfg.Logging.Level, ov.LogLevel)
	setStr(&cfg.Logging.File.Path, ov.LogFile)

	if ov.TelegramToken != nil || ov.TelegramChatID != nil {
		if cfg.Notify == nil {
			cfg.Notify = &NotifyConfig{}
		}
		tg := &cfg.Notify.Telegram
		setStr(&tg.Token, ov.TelegramToken)
		if ov.TelegramChatID != nil {
			raw := strings.TrimSpace(*ov.TelegramChatID)
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("environment: TELEGRAM_CHAT_ID: invalid chat id %q", raw)
			}
			tg.ChatID = id
		}
		// Both set through the environment: treat as opting in.
		if strings.TrimSpace(tg.Token) != "" && tg.ChatID != 0 {
			tg.Enabled = true
		}
	}

	if ov.StatusAddr != nil {
		if cfg.Status == nil {
			cfg.Status = &StatusConfig{}
		}
		addr := strings.TrimSpace(*ov.StatusAddr)
		cfg.Status.Addr = addr
		cfg.Status.Enabled = addr != ""
	}
	return nil
}

// lookupEnvSet reports whether any override variable is present. Used by -check output.
func lookupEnvSet(keys ...string) []string {
	var out []string
	for _, k := range keys {
		if _, ok := os.LookupEnv(k); ok {
			out = append(out, k)
		}
	}
	return out
}

// EnvKeys are the recognised override variables, in documentation order.
var EnvKeys = []string{
	"RUN_TIMES", "CATCH_UP", "POLL_INTERVAL", "COOLDOWN", "MATCH_WINDOW", "TZ_NAME",
	"RUN_MODE", "PYTHON_EXE", "PY_SCRIPT", "EXE_PATH", "JOB_ARGS", "JOB_WORKDIR", "JOB_TIMEOUT", "JOB_OUTPUT_LIMIT",
	"STATE_DRIVER", "STATE_DIR", "STATE_RETAIN_DAYS",
	"LOG_LEVEL", "LOG_FILE",
	"TELEGRAM_TOKEN", "TELEGRAM_CHAT_ID",
	"STATUS_ADDR",
}

// EnvOverridesSet returns the override variables present in the environment.
func EnvOverridesSet() []string { return lookupEnvSet(EnvKeys...) }
