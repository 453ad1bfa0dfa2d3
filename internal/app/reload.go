package app

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/ewired/actionable-tabs/internal/config"
	"github.com/ewired/actionable-tabs/internal/notifier"
	logx "github.com/ewired/actionable-tabs/pkg/logx"
	"github.com/ewired/actionable-tabs/pkg/systemd"
)

// applyConfig re-applies the live-reloadable sections. Storage and host
// changes are logged and need a restart.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	prev := a.cfg
	sections := changedSections(prev, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(cfg.ToLogx())
		case "scheduler":
			a.engine.SetTimezone(cfg.Scheduler.Timezone)
			a.log.Info("scheduler timezone applied", logx.String("timezone", a.sched.Location().String()))
		case "notifier":
			a.applyNotifier(ctx, cfg)
		case "ops":
			oc, err := cfg.ToOps()
			if err != nil {
				a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
				continue
			}
			if err := a.ops.Reconfigure(ctx, oc); err != nil {
				a.log.Warn("ops reconfigure failed", logx.Err(err))
			}
		case "storage", "host":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
	a.cfg = cfg
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) applyNotifier(ctx context.Context, cfg *config.Config) {
	ncfg, err := cfg.ToNotifier()
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	sink, err := notifier.NewSink(ncfg, a.log.With(logx.String("comp", "notifier")))
	if err != nil {
		a.log.Warn("notifier sink unavailable; keeping previous", logx.Err(err))
		return
	}
	wasEnabled := a.notif.Enabled()
	a.notif.Apply(ncfg, sink)
	switch {
	case wasEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(a.sup.Context())
	}
}

// changedSections lists top-level config sections that differ, in file order.
func changedSections(a, b *config.Config) []string {
	if a == nil || b == nil {
		return nil
	}
	var out []string
	add := func(name string, x, y any) {
		if !reflect.DeepEqual(x, y) {
			out = append(out, name)
		}
	}
	add("logging", a.Logging, b.Logging)
	add("storage", a.Storage, b.Storage)
	add("scheduler", a.Scheduler, b.Scheduler)
	add("notifier", a.Notifier, b.Notifier)
	add("ops", a.Ops, b.Ops)
	add("host", a.Host, b.Host)
	return out
}
