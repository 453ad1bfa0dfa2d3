package engine

import (
	"context"
	"time"

	"github.com/ewired/actionable-tabs/internal/cronexpr"
	"github.com/ewired/actionable-tabs/internal/rules"
	"github.com/ewired/actionable-tabs/internal/task/scheduler"
	logx "github.com/ewired/actionable-tabs/pkg/logx"
)

// CheckAndCatchUp sums the occurrences each rule missed since its own
// LastMoveTime and runs one pass if anything was missed. Rules that never
// fired are excluded. Returns the sum.
func (e *Engine) CheckAndCatchUp(ctx context.Context, rs []rules.Rule, now time.Time) int {
	if rules.MostRecentLastMoveTime(rs) == nil {
		e.log.Debug("catch-up skipped; no rule has fired yet")
		return 0
	}

	now = now.In(e.sched.Location())
	missed := 0
	for _, r := range rs {
		if r.LastMoveTime == nil {
			continue
		}
		n := cronexpr.CountMissedOccurrences(r.CronSchedule, time.UnixMilli(*r.LastMoveTime), now)
		if n > 0 {
			e.log.Debug("rule missed occurrences", logx.String("rule_id", r.ID), logx.Int("missed", n))
		}
		missed += n
	}
	e.metrics.RecordCatchUp(missed)
	if missed == 0 {
		return 0
	}

	e.log.Info("running catch-up pass", logx.Int("missed", missed))
	e.ExecuteAll(ctx, rs, now, TriggerCatchUp)
	return missed
}

// Start loads settings, runs catch-up, and makes sure the timer is armed.
// It returns the number of missed occurrences found. When settings cannot be
// read the timer is still armed (see armFallback) and the error returned.
func (e *Engine) Start(ctx context.Context) (int, error) {
	now := e.now()
	st, err := e.Settings(ctx)
	if err != nil {
		e.armFallback(now, err)
		return 0, err
	}
	missed := e.CheckAndCatchUp(ctx, st.Rules, now)
	if missed == 0 {
		// A catch-up pass re-arms on its own.
		e.reschedule(st.Rules, now)
	}
	return missed, nil
}

// OnTimerFired runs the scheduled pass. When settings cannot be read the
// last known rules are used so the timer is never left unarmed by a
// transient storage failure.
func (e *Engine) OnTimerFired(ctx context.Context) PassResult {
	e.sched.Fired()
	now := e.now()

	rs := e.currentRules()
	st, err := e.Settings(ctx)
	switch {
	case err == nil:
		rs = st.Rules
	case rs == nil:
		// Nothing known to run. Stamping defaults would overwrite the
		// stored rules once storage recovers, so only retry later.
		return PassResult{Trigger: TriggerAlarm, At: now, SaveError: err.Error(), Next: e.armFallback(now, err)}
	default:
		e.log.Error("settings unavailable; using last known rules", logx.Err(err), logx.Int("rules", len(rs)))
	}
	return e.ExecuteAll(ctx, rs, now, TriggerAlarm)
}

// armFallback keeps the timer alive while settings are unreadable, using the
// last known rules or else the default schedule, so the load is retried.
func (e *Engine) armFallback(now time.Time, cause error) scheduler.Result {
	rs := e.currentRules()
	if rs == nil {
		rs = rules.DefaultSettings().Rules
	}
	res := e.reschedule(rs, now)
	e.log.Warn("settings unavailable; timer armed for retry",
		logx.Err(cause),
		logx.Int("delay_minutes", res.DelayMinutes))
	return res
}
