package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reportd/internal/app"
	"reportd/internal/config"
	"reportd/internal/schedule"
)

var version = "dev"

func main() {
	var (
		cfgPath  string
		envFile  string
		check    bool
		showVers bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to config file (yaml, toml or json); empty uses defaults and environment")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flag.BoolVar(&check, "check", false, "validate the configuration, print the slot plan and exit")
	flag.BoolVar(&showVers, "version", false, "print version and exit")
	flag.Parse()

	if showVers {
		fmt.Println("reportd", version)
		return
	}

	if err := config.LoadDotenv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if check {
		if err := runCheck(os.Stdout, cfgPath, time.Now()); err != nil {
			fmt.Fprintln(os.Stderr, "config invalid:", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(config.NewConfigManager(cfgPath), app.Options{Version: version})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		} else {
			reason = app.StopAppStop
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// runCheck validates the configuration and prints when each slot fires next.
func runCheck(w io.Writer, cfgPath string, now time.Time) error {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	slots, err := schedule.ParseSlotList(cfg.Schedule.RunTimes)
	if err != nil {
		return err
	}
	loc, err := schedule.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return err
	}
	now = now.In(loc)

	fmt.Fprintf(w, "config ok (%s)\n", describePath(cfgPath))
	fmt.Fprintf(w, "timezone: %s, catch-up: %v\n", loc, config.BoolOr(cfg.Schedule.CatchUp, true))
	fmt.Fprintf(w, "state: %s in %s\n", cfg.State.Driver, cfg.State.Dir)
	for _, sl := range slots {
		fmt.Fprintf(w, "  %s  next %s\n", sl.ID(), sl.Next(now).Format("Mon 2006-01-02 15:04 MST"))
	}
	if overrides := config.EnvOverridesSet(); len(overrides) > 0 {
		fmt.Fprintf(w, "environment overrides: %v\n", overrides)
	}
	return nil
}

func describePath(p string) string {
	if p == "" {
		return "no file, defaults + environment"
	}
	return p
}
