package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ewired/actionable-tabs/internal/alarm"
	"github.com/ewired/actionable-tabs/internal/config"
	"github.com/ewired/actionable-tabs/internal/eventbus"
	"github.com/ewired/actionable-tabs/internal/metrics"
	"github.com/ewired/actionable-tabs/internal/notifier"
	"github.com/ewired/actionable-tabs/internal/observability/ops"
	"github.com/ewired/actionable-tabs/internal/rulestore"
	rtsup "github.com/ewired/actionable-tabs/internal/runtime/supervisor"
	"github.com/ewired/actionable-tabs/internal/storage"
	"github.com/ewired/actionable-tabs/internal/tabs"
	"github.com/ewired/actionable-tabs/internal/task/engine"
	"github.com/ewired/actionable-tabs/internal/task/scheduler"
	logx "github.com/ewired/actionable-tabs/pkg/logx"
	"github.com/ewired/actionable-tabs/pkg/systemd"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var ErrNotRunning = errors.New("app is not running")

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	host  *tabs.MemHost

	alarm  *alarm.Service
	sched  *scheduler.Service
	notif  *notifier.Service
	reg    *prometheus.Registry
	engine *engine.Engine
	ops    *ops.Service

	sup *rtsup.Supervisor

	fired chan string
	reqs  chan func(context.Context)
}

type options struct {
	alarmUnit time.Duration
}

type Option func(*options)

// WithAlarmUnit shrinks the alarm minute. Tests use it to fire quickly.
func WithAlarmUnit(d time.Duration) Option {
	return func(o *options) { o.alarmUnit = d }
}

// New loads the config file and wires every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "config"))
	cfgm := config.NewManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.ToLogx())
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := cfg.ToStorage()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	host := tabs.NewMemHost()
	if p := strings.TrimSpace(cfg.Host.SnapshotPath); p != "" {
		if host, err = tabs.LoadSnapshot(p); err != nil {
			_ = store.Close()
			return nil, err
		}
		log.Info("tab snapshot loaded", logx.String("path", p), logx.Int("items", len(host.Order())))
	}

	a := &App{
		cfgm:  cfgm,
		cfg:   cfg,
		log:   log.With(logx.String("comp", "app")),
		logs:  logSvc,
		bus:   eventbus.New(),
		store: store,
		host:  host,
		fired: make(chan string, 1),
		reqs:  make(chan func(context.Context)),
	}

	var alarmOpts []alarm.Option
	if o.alarmUnit > 0 {
		alarmOpts = append(alarmOpts, alarm.WithUnit(o.alarmUnit))
	}
	a.alarm = alarm.New(log.With(logx.String("comp", "alarm")), a.onAlarm, alarmOpts...)
	a.sched = scheduler.New(a.alarm, cfg.Scheduler.Timezone, log.With(logx.String("comp", "scheduler")))

	ncfg, err := cfg.ToNotifier()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sink, err := notifier.NewSink(ncfg, log.With(logx.String("comp", "notifier")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.notif = notifier.New(ncfg, sink, log.With(logx.String("comp", "notifier")))

	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.engine, err = engine.New(engine.Deps{
		Rules:     rulestore.New(store, log.With(logx.String("comp", "rulestore")), a.bus),
		Host:      host,
		Scheduler: a.sched,
		Notifier:  a.notif,
		Journal:   store,
		Metrics:   metrics.NewCollector(a.reg),
		Bus:       a.bus,
		Log:       log.With(logx.String("comp", "engine")),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	oc, err := cfg.ToOps()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.ops = ops.New(oc, loopBackend{a: a}, a.reg, log.With(logx.String("comp", "ops")))
	return a, nil
}

// Backend is the engine API funnelled through the event loop.
func (a *App) Backend() ops.Backend { return loopBackend{a: a} }

// Host exposes the in-memory tab collection.
func (a *App) Host() *tabs.MemHost { return a.host }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs catch-up and arms the timer before any other event is
// processed, then starts the loop and the optional services.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	if a.notif.Enabled() {
		a.notif.Start(c)
	}

	missed, err := a.engine.Start(c)
	if err != nil {
		// Settings could not be read; the loop still runs so a later
		// mutation or reload can recover.
		a.log.Error("engine start failed", logx.Err(err))
	} else if missed > 0 {
		a.log.Info("caught up after downtime", logx.Int("missed", missed))
	}

	events, unsub := a.bus.Subscribe(32, eventbus.SettingsChanged, eventbus.PassCompleted)
	reloads := a.cfgm.Subscribe(8)
	a.sup.Go("app.loop", func(c context.Context) error {
		defer unsub()
		defer a.cfgm.Unsubscribe(reloads)
		return a.loop(c, events, reloads)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})

	if err := a.ops.Start(c); err != nil {
		a.log.Warn("ops server not started", logx.Err(err))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ProcessStarted})
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	st := a.sched.Snapshot()
	a.log.Info("app started", logx.String("scheduler", st.State.String()), logx.Time("next", st.Next))
	return nil
}

// Stop shuts components down in reverse dependency order. Each step is
// bounded so one component cannot stall the others.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	step := func(name string, max time.Duration, fn func(context.Context)) {
		c, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		fn(c)
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("ops", 2*time.Second, a.ops.Stop)
	step("alarm", time.Second, func(context.Context) { a.alarm.Stop() })
	// Drain notifications before the app context goes away.
	step("notifier", 2*time.Second, a.notif.Stop)
	step("supervisor", 3*time.Second, func(c context.Context) {
		if err := a.sup.Stop(c); err != nil {
			a.log.Warn("supervisor stop", logx.Err(err))
		}
	})
	step("storage", time.Second, func(context.Context) {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
