package app

import (
	"context"

	"github.com/ewired/actionable-tabs/internal/config"
	"github.com/ewired/actionable-tabs/internal/eventbus"
	"github.com/ewired/actionable-tabs/internal/rules"
	"github.com/ewired/actionable-tabs/internal/rulestore"
	"github.com/ewired/actionable-tabs/internal/storage"
	"github.com/ewired/actionable-tabs/internal/task/engine"
	"github.com/ewired/actionable-tabs/internal/task/scheduler"
	logx "github.com/ewired/actionable-tabs/pkg/logx"
)

// onAlarm runs on the timer goroutine. A pending fire is enough; extra
// fires coalesce.
func (a *App) onAlarm(name string) {
	select {
	case a.fired <- name:
	default:
	}
}

// loop is the only goroutine that touches the engine's mutating API.
// Timer fires, ops requests and config reloads are handled one at a time.
func (a *App) loop(ctx context.Context, events <-chan eventbus.Event, reloads <-chan *config.Config) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case name := <-a.fired:
			if name != scheduler.AlarmName {
				a.log.Debug("ignoring unknown alarm", logx.String("name", name))
				continue
			}
			a.bus.Publish(eventbus.Event{Type: eventbus.TimerFired, Data: name})
			a.engine.OnTimerFired(ctx)

		case req := <-a.reqs:
			req(ctx)

		case cfg, ok := <-reloads:
			if !ok {
				reloads = nil
				continue
			}
			a.applyConfig(ctx, cfg)

		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			a.logEvent(e)
		}
	}
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case rulestore.Change:
		a.log.Debug("settings changed",
			logx.Int("rules", len(d.Settings.Rules)),
			logx.Bool("schedules_changed", d.SchedulesChanged))
	case eventbus.PassSummary:
		a.log.Debug("pass completed",
			logx.String("trigger", d.Trigger),
			logx.Int("rules", d.Rules),
			logx.Int("failed", d.Failed),
			logx.Int("moved", d.ItemsMoved))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

type result[T any] struct {
	v   T
	err error
}

// call runs fn on the loop goroutine and waits for its result. The result
// channel is buffered so a caller that gives up never blocks the loop.
func call[T any](ctx context.Context, a *App, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	done := a.Done()
	res := make(chan result[T], 1)
	req := func(c context.Context) {
		v, err := fn(c)
		res <- result[T]{v: v, err: err}
	}

	select {
	case a.reqs <- req:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-done:
		return zero, ErrNotRunning
	}
	select {
	case r := <-res:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// loopBackend serializes ops requests with timer fires. Read-only journal
// and history queries go straight to the engine.
type loopBackend struct{ a *App }

func (b loopBackend) Status(ctx context.Context) (engine.Status, error) {
	return call(ctx, b.a, b.a.engine.Status)
}

func (b loopBackend) Settings(ctx context.Context) (rules.Settings, error) {
	return call(ctx, b.a, b.a.engine.Settings)
}

func (b loopBackend) MutateRules(ctx context.Context, rs []rules.Rule) (rules.Settings, error) {
	return call(ctx, b.a, func(c context.Context) (rules.Settings, error) {
		return b.a.engine.MutateRules(c, rs)
	})
}

func (b loopBackend) TriggerManualExecution(ctx context.Context, mode, direction string) (engine.ManualResult, error) {
	return call(ctx, b.a, func(c context.Context) (engine.ManualResult, error) {
		return b.a.engine.TriggerManualExecution(c, mode, direction)
	})
}

func (b loopBackend) ClearAllActionableMarks(ctx context.Context) (int, error) {
	return call(ctx, b.a, b.a.engine.ClearAllActionableMarks)
}

func (b loopBackend) History() []engine.PassResult { return b.a.engine.History() }

func (b loopBackend) RecentMoves(ctx context.Context, limit int) ([]storage.MoveRecord, error) {
	return b.a.engine.RecentMoves(ctx, limit)
}
