package app

import (
	"context"
	"strings"
	"time"

	"reportd/internal/config"
	"reportd/internal/eventbus"
	logx "reportd/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes a validated config into the running components. Settings
// that cannot change live are reported and left alone.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLogConfig(newCfg))

	if sc, _, err := mapScheduleConfig(newCfg); err != nil {
		a.log.Warn("invalid schedule config; keeping previous", logx.Err(err))
	} else if err := a.sched.Apply(sc); err != nil {
		a.log.Warn("schedule not applied", logx.Err(err))
	}

	if jc, err := mapJobConfig(newCfg); err != nil {
		a.log.Warn("invalid job config; keeping previous", logx.Err(err))
	} else if err := a.inv.Apply(jc); err != nil {
		a.log.Warn("job config not applied", logx.Err(err))
	}

	a.applyNotifier(ctx, newCfg)
	a.status.Reconfigure(ctx, mapStatusConfig(newCfg))

	if len(restart) > 0 {
		a.log.Warn("restart required for some changes to take effect", logx.Strings("settings", restart))
	}
	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: eventbus.ConfigReloaded{
		Summary: strings.Join(sections, ","),
		Restart: restart,
	}})
}

// applyNotifier updates the alert policy in place, or swaps the service when the
// Telegram client itself has to change.
func (a *App) applyNotifier(ctx context.Context, cfg *config.Config) {
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
		return
	}

	a.notifMu.Lock()
	cur := a.notif
	sameClient := telegramKey(cfg) == a.tgKey
	a.notifMu.Unlock()

	if sameClient && cur.Enabled() == ncfg.Enabled {
		cur.Apply(ncfg)
		return
	}

	next, err := a.buildNotifier(cfg)
	if err != nil {
		a.log.Warn("notifier not rebuilt; keeping previous", logx.Err(err))
		return
	}
	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	cur.Stop(stopCtx)
	cancel()

	a.notifMu.Lock()
	a.notif = next
	a.tgKey = telegramKey(cfg)
	a.notifMu.Unlock()
	next.Start(ctx)
	a.log.Info("notifier rebuilt", logx.Bool("enabled", next.Enabled()))
}
