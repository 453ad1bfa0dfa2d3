package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewired/actionable-tabs/internal/eventbus"
	"github.com/ewired/actionable-tabs/internal/rules"
	"github.com/ewired/actionable-tabs/internal/rulestore"
	"github.com/ewired/actionable-tabs/internal/storage"
	"github.com/ewired/actionable-tabs/internal/tabs"
	"github.com/ewired/actionable-tabs/internal/task/scheduler"
	logx "github.com/ewired/actionable-tabs/pkg/logx"
)

var now = time.Date(2024, 3, 4, 10, 5, 0, 0, time.UTC)

type fakeTimer struct {
	armed  map[string]int
	arms   int
	clears int
}

func (f *fakeTimer) Arm(name string, delayMinutes int) {
	f.arms++
	f.armed[name] = delayMinutes
}

func (f *fakeTimer) Clear(name string) bool {
	f.clears++
	_, ok := f.armed[name]
	delete(f.armed, name)
	return ok
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingNotifier) Notify(title, message string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, title+": "+message)
	r.mu.Unlock()
	return nil
}

// flakyHost fails the next failEnumerate enumerations and every move while failMoves is set.
type flakyHost struct {
	*tabs.MemHost
	failEnumerate int
	failMoves     bool
}

func (h *flakyHost) EnumerateItems(ctx context.Context) ([]tabs.Item, error) {
	if h.failEnumerate > 0 {
		h.failEnumerate--
		return nil, errors.New("window closed")
	}
	return h.MemHost.EnumerateItems(ctx)
}

func (h *flakyHost) MoveItem(ctx context.Context, id string, dest int) (int, error) {
	if h.failMoves {
		return 0, errors.New("tab is being dragged")
	}
	return h.MemHost.MoveItem(ctx, id, dest)
}

type fixture struct {
	eng   *Engine
	host  *flakyHost
	kv    *storage.Memory
	store *rulestore.Store
	timer *fakeTimer
	notes *recordingNotifier
	bus   eventbus.Bus
}

func ms(t time.Time) *int64 {
	v := t.UnixMilli()
	return &v
}

func newFixture(t *testing.T, items ...tabs.Item) *fixture {
	t.Helper()
	f := &fixture{
		host:  &flakyHost{MemHost: tabs.NewMemHost(items...)},
		kv:    storage.NewMemory(),
		timer: &fakeTimer{armed: map[string]int{}},
		notes: &recordingNotifier{},
		bus:   eventbus.New(),
	}
	f.store = rulestore.New(f.kv, logx.Nop(), f.bus)
	eng, err := New(Deps{
		Rules:     f.store,
		Host:      f.host,
		Scheduler: scheduler.New(f.timer, "UTC", logx.Nop()),
		Notifier:  f.notes,
		Journal:   f.kv,
		Bus:       f.bus,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)
	f.eng = eng
	return f
}

// seed persists rs as the current settings.
func (f *fixture) seed(t *testing.T, rs ...rules.Rule) []rules.Rule {
	t.Helper()
	ctx := context.Background()
	_, err := f.eng.Settings(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.Save(ctx, rs))
	st, err := f.eng.Settings(ctx)
	require.NoError(t, err)
	return st.Rules
}

func rule(id, cron string) rules.Rule {
	return rules.Rule{
		ID:                id,
		CronSchedule:      cron,
		QueueMode:         rules.QueueOldest,
		MoveCount:         2,
		MoveDirection:     rules.DirectionLeft,
		ShowNotifications: true,
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}

func TestExecuteAllWithoutActionableItemsIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tabs.Item{ID: "a"}, tabs.Item{ID: "b"})
	st, err := f.eng.Settings(ctx)
	require.NoError(t, err)
	writes := f.kv.Writes()

	pass := f.eng.ExecuteAll(ctx, st.Rules, now, TriggerAlarm)

	assert.False(t, pass.Persisted)
	assert.Equal(t, 0, pass.Moved)
	assert.True(t, pass.Rules[0].NoOp)
	assert.Equal(t, writes, f.kv.Writes(), "no-op pass must not write")
	after, err := f.eng.Settings(ctx)
	require.NoError(t, err)
	assert.Nil(t, after.Rules[0].LastMoveTime)
	assert.Empty(t, f.notes.msgs)
	// Standard re-arm only: one clear, one arm.
	assert.Equal(t, 1, f.timer.clears)
	assert.Equal(t, 1, f.timer.arms)
}

func TestExecuteAllMovesStampsAndNotifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		tabs.Item{ID: "p", Pinned: true},
		tabs.Item{ID: "a"},
		tabs.Item{ID: "b", MarkedAt: ms(now.Add(-2 * time.Hour))},
		tabs.Item{ID: "c", MarkedAt: ms(now.Add(-time.Hour))},
	)
	rs := f.seed(t, rule("r1", "*/30 * * * *"))
	writes := f.kv.Writes()

	pass := f.eng.ExecuteAll(ctx, rs, now, TriggerAlarm)

	require.True(t, pass.Persisted)
	assert.Equal(t, 2, pass.Moved)
	assert.Equal(t, []string{"p", "b", "c", "a"}, f.host.Order())
	assert.Equal(t, writes+1, f.kv.Writes(), "one persisted write per pass")

	st, err := f.eng.Settings(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.Rules[0].LastMoveTime)
	assert.Equal(t, now.UnixMilli(), *st.Rules[0].LastMoveTime)

	assert.Equal(t, []string{"Actionable Tabs: Moved 2 actionable tabs to the front"}, f.notes.msgs)

	moves, err := f.eng.RecentMoves(ctx, 10)
	require.NoError(t, err)
	require.Len(t, moves, 2)
	assert.Equal(t, "alarm", moves[0].Trigger)
	assert.Equal(t, "b", moves[0].ItemID)
	assert.Equal(t, 1, moves[0].NewIndex)

	assert.Equal(t, 25, f.timer.armed[scheduler.AlarmName])
}

func TestExecuteAllContinuesAfterRuleFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tabs.Item{ID: "a", MarkedAt: ms(now)})
	rs := f.seed(t, rule("r1", "*/30 * * * *"), rule("r2", "0 * * * *"))
	f.host.failEnumerate = 1

	pass := f.eng.ExecuteAll(ctx, rs, now, TriggerAlarm)

	assert.Equal(t, 1, pass.Failed)
	assert.Contains(t, pass.Rules[0].Error, ErrRuleExecutionFailed.Error())
	assert.Empty(t, pass.Rules[1].Error)

	st, err := f.eng.Settings(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.Rules[0].LastMoveTime, "failed rule is not stamped")
	require.NotNil(t, st.Rules[1].LastMoveTime)
}

func TestExecuteAllStampsRuleWhoseMovesAllFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tabs.Item{ID: "x"}, tabs.Item{ID: "a", MarkedAt: ms(now)})
	rs := f.seed(t, rule("r1", "*/30 * * * *"))
	f.host.failMoves = true

	pass := f.eng.ExecuteAll(ctx, rs, now, TriggerAlarm)

	assert.Equal(t, 0, pass.Moved)
	assert.Equal(t, 1, pass.Rules[0].FailedMoves)
	assert.True(t, pass.Persisted)
	assert.Empty(t, f.notes.msgs, "nothing moved, nothing to announce")

	st, err := f.eng.Settings(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.Rules[0].LastMoveTime)
}

func TestExecuteAllRespectsShowNotifications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tabs.Item{ID: "x"}, tabs.Item{ID: "a", MarkedAt: ms(now)})
	quiet := rule("quiet", "*/30 * * * *")
	quiet.ShowNotifications = false
	rs := f.seed(t, quiet)

	pass := f.eng.ExecuteAll(ctx, rs, now, TriggerAlarm)

	assert.Equal(t, 1, pass.Moved)
	assert.Empty(t, f.notes.msgs)
}

func TestExecuteAllPersistenceFailureSurfacesInStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tabs.Item{ID: "x"}, tabs.Item{ID: "a", MarkedAt: ms(now)})
	rs := f.seed(t, rule("r1", "*/30 * * * *"))
	f.kv.FailPut = errors.New("disk full")

	pass := f.eng.ExecuteAll(ctx, rs, now, TriggerAlarm)

	assert.False(t, pass.Persisted)
	assert.Contains(t, pass.SaveError, "disk full")
	assert.Equal(t, 25, f.timer.armed[scheduler.AlarmName], "timer re-armed despite save failure")

	status, err := f.eng.Status(ctx)
	require.NoError(t, err)
	assert.Contains(t, status.SaveError, "disk full")

	f.kv.FailPut = nil
	f.eng.ExecuteAll(ctx, rs, now, TriggerAlarm)
	status, err = f.eng.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, status.SaveError)
}

func TestExecuteAllPublishesPassCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tabs.Item{ID: "a", MarkedAt: ms(now)})
	rs := f.seed(t, rule("r1", "*/30 * * * *"))
	ch, unsub := f.bus.Subscribe(4, eventbus.PassCompleted)
	defer unsub()

	f.eng.ExecuteAll(ctx, rs, now, TriggerCatchUp)

	select {
	case ev := <-ch:
		sum, ok := ev.Data.(eventbus.PassSummary)
		require.True(t, ok)
		assert.Equal(t, "catchup", sum.Trigger)
		assert.Equal(t, 1, sum.Rules)
	default:
		t.Fatal("pass.completed not published")
	}
	require.Len(t, f.eng.History(), 1)
}

func TestMutateRulesRejectsEmptyAndKeepsPreviousState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	before, err := f.eng.Settings(ctx)
	require.NoError(t, err)

	_, err = f.eng.MutateRules(ctx, nil)
	require.ErrorIs(t, err, ErrEmptyRuleSet)
	_, err = f.eng.MutateRules(ctx, []rules.Rule{})
	require.ErrorIs(t, err, ErrEmptyRuleSet)

	after, err := f.eng.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.NotEmpty(t, after.Rules)
}

func TestMutateRulesAssignsIDsAndRearms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.eng.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, 25, f.timer.armed[scheduler.AlarmName])

	st, err := f.eng.MutateRules(ctx, []rules.Rule{rule("", "*/5 * * * *")})
	require.NoError(t, err)
	require.Len(t, st.Rules, 1)
	assert.NotEmpty(t, st.Rules[0].ID)
	assert.Equal(t, 5, f.timer.armed[scheduler.AlarmName])

	manualOnly := st.Rules[0]
	manualOnly.CronSchedule = ""
	_, err = f.eng.MutateRules(ctx, []rules.Rule{manualOnly})
	require.NoError(t, err)
	assert.Empty(t, f.timer.armed, "manual-only rules leave the timer cleared")
}

func TestMutateRulesWithoutScheduleChangeDoesNotRearm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.eng.Start(ctx)
	require.NoError(t, err)
	st, err := f.eng.Settings(ctx)
	require.NoError(t, err)
	arms := f.timer.arms

	edited := st.Rules[0]
	edited.MoveCount = 3
	_, err = f.eng.MutateRules(ctx, []rules.Rule{edited})
	require.NoError(t, err)
	assert.Equal(t, arms, f.timer.arms)
}

func TestMutateRulesRejectsInvalidRule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bad := rule("r1", "*/30 * * * *")
	bad.MoveCount = 42
	_, err := f.eng.MutateRules(ctx, []rules.Rule{bad})
	require.Error(t, err)
}

func TestCheckAndCatchUp(t *testing.T) {
	ctx := context.Background()

	t.Run("never fired", func(t *testing.T) {
		f := newFixture(t, tabs.Item{ID: "a", MarkedAt: ms(now)})
		rs := f.seed(t, rule("r1", "*/30 * * * *"))
		writes := f.kv.Writes()

		assert.Equal(t, 0, f.eng.CheckAndCatchUp(ctx, rs, now))
		assert.Empty(t, f.eng.History())
		assert.Equal(t, writes, f.kv.Writes())
	})

	t.Run("95 minutes behind a half-hourly rule", func(t *testing.T) {
		f := newFixture(t, tabs.Item{ID: "a", MarkedAt: ms(now)})
		r := rule("r1", "*/30 * * * *")
		r.LastMoveTime = ms(now.Add(-95 * time.Minute))
		rs := f.seed(t, r)

		assert.Equal(t, 3, f.eng.CheckAndCatchUp(ctx, rs, now))
		hist := f.eng.History()
		require.Len(t, hist, 1, "exactly one catch-up pass")
		assert.Equal(t, TriggerCatchUp, hist[0].Trigger)

		st, err := f.eng.Settings(ctx)
		require.NoError(t, err)
		assert.Equal(t, now.UnixMilli(), *st.Rules[0].LastMoveTime)
	})

	t.Run("rules that never fired are excluded", func(t *testing.T) {
		f := newFixture(t)
		fired := rule("fired", "*/30 * * * *")
		fired.LastMoveTime = ms(now.Add(-95 * time.Minute))
		rs := f.seed(t, fired, rule("fresh", "* * * * *"))

		assert.Equal(t, 3, f.eng.CheckAndCatchUp(ctx, rs, now))
	})

	t.Run("up to date", func(t *testing.T) {
		f := newFixture(t)
		r := rule("r1", "*/30 * * * *")
		r.LastMoveTime = ms(now.Add(-time.Minute))
		rs := f.seed(t, r)

		assert.Equal(t, 0, f.eng.CheckAndCatchUp(ctx, rs, now))
		assert.Empty(t, f.eng.History())
	})

	t.Run("invalid schedule counts zero", func(t *testing.T) {
		f := newFixture(t)
		r := rule("r1", "*/30 * * * *")
		r.LastMoveTime = ms(now.Add(-24 * time.Hour))
		rs := f.seed(t, r)
		rs[0].CronSchedule = "not a cron"

		assert.Equal(t, 0, f.eng.CheckAndCatchUp(ctx, rs, now))
	})
}

func TestStartRunsCatchUpBeforeArming(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tabs.Item{ID: "a", MarkedAt: ms(now)})
	r := rule("r1", "*/30 * * * *")
	r.LastMoveTime = ms(now.Add(-95 * time.Minute))
	f.seed(t, r)

	missed, err := f.eng.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, missed)
	assert.Equal(t, 1, f.timer.arms, "catch-up pass arms once")
	assert.Equal(t, 25, f.timer.armed[scheduler.AlarmName])
}

func TestOnTimerFiredRunsPassAndRearms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tabs.Item{ID: "a", MarkedAt: ms(now)})
	_, err := f.eng.Start(ctx)
	require.NoError(t, err)

	pass := f.eng.OnTimerFired(ctx)

	assert.Equal(t, TriggerAlarm, pass.Trigger)
	assert.Equal(t, 2, f.timer.arms)
	status, err := f.eng.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "armed", status.SchedulerState)
	require.NotNil(t, status.LastMoveTime)
	assert.Equal(t, now.UnixMilli(), *status.LastMoveTime)
}

func TestTriggerManualExecution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		tabs.Item{ID: "a"},
		tabs.Item{ID: "b", MarkedAt: ms(now.Add(-time.Hour))},
		tabs.Item{ID: "c", MarkedAt: ms(now.Add(-2 * time.Hour))},
	)
	_, err := f.eng.Start(ctx)
	require.NoError(t, err)
	arms := f.timer.arms

	res, err := f.eng.TriggerManualExecution(ctx, "oldest", "left")
	require.NoError(t, err)
	assert.Equal(t, "c", res.ItemID)
	assert.Equal(t, 2, res.OldIndex)
	assert.Equal(t, 0, res.NewIndex)
	assert.True(t, res.DidMove)
	assert.Equal(t, []string{"c", "a", "b"}, f.host.Order(), "manual runs move exactly one item")

	st, err := f.eng.Settings(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.Rules[0].LastMoveTime)
	assert.Equal(t, arms, f.timer.arms)

	moves, err := f.eng.RecentMoves(ctx, 1)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, "manual", moves[0].Trigger)

	res, err = f.eng.TriggerManualExecution(ctx, "rightmost", "right")
	require.NoError(t, err)
	assert.Equal(t, "b", res.ItemID)
	assert.Equal(t, 2, res.NewIndex)
}

func TestTriggerManualExecutionArguments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.eng.TriggerManualExecution(ctx, "random", "left")
	require.ErrorIs(t, err, ErrInvalidMode)
	_, err = f.eng.TriggerManualExecution(ctx, "oldest", "up")
	require.ErrorIs(t, err, ErrInvalidDirection)

	res, err := f.eng.TriggerManualExecution(ctx, "fifo", "front")
	require.NoError(t, err)
	assert.True(t, res.NoOp)
}

func TestClearAllActionableMarks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		tabs.Item{ID: "p", Pinned: true, MarkedAt: ms(now)},
		tabs.Item{ID: "a", MarkedAt: ms(now)},
		tabs.Item{ID: "b"},
	)

	status, err := f.eng.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.ActionableCount)
	assert.Equal(t, 1, status.PinnedCount)
	assert.Equal(t, 3, status.TotalCount)

	n, err := f.eng.ClearAllActionableMarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	status, err = f.eng.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.ActionableCount)
}

func TestStatusReportsNextScheduledTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.eng.Start(ctx)
	require.NoError(t, err)

	status, err := f.eng.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.NextScheduledTime)
	assert.Equal(t, time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC).UnixMilli(), *status.NextScheduledTime)
	assert.Nil(t, status.LastMoveTime)
	assert.Equal(t, "UTC", status.Timezone)
}

func TestMoveMessage(t *testing.T) {
	assert.Equal(t, "Moved 1 actionable tab to the front", MoveMessage(1, rules.DirectionLeft))
	assert.Equal(t, "Moved 3 actionable tabs to the end", MoveMessage(3, rules.DirectionRight))
}

func TestMutateRulesRewritesLegacySpellings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		tabs.Item{ID: "a", MarkedAt: ms(now.Add(-time.Minute))},
		tabs.Item{ID: "b"},
		tabs.Item{ID: "c"},
	)
	_, err := f.eng.Start(ctx)
	require.NoError(t, err)

	st, err := f.eng.MutateRules(ctx, []rules.Rule{{
		ID:            "r1",
		CronSchedule:  "*/30 * * * *",
		QueueMode:     "lifo",
		MoveCount:     1,
		MoveDirection: "end",
	}})
	require.NoError(t, err)
	assert.Equal(t, rules.QueueNewest, st.Rules[0].QueueMode)
	assert.Equal(t, rules.DirectionRight, st.Rules[0].MoveDirection)

	stored, err := f.eng.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.Rules, stored.Rules)

	pass := f.eng.ExecuteAll(ctx, st.Rules, now, TriggerAlarm)
	assert.Equal(t, 1, pass.Moved)
	assert.Equal(t, []string{"b", "c", "a"}, f.host.Order())
}

func TestExecuteAllUnknownModeFailsOnlyThatRule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tabs.Item{ID: "a"}, tabs.Item{ID: "b", MarkedAt: ms(now)})
	good := rule("good", "*/30 * * * *")
	bad := rule("bad", "*/30 * * * *")
	bad.QueueMode = "shuffle"

	pass := f.eng.ExecuteAll(ctx, []rules.Rule{bad, good}, now, TriggerAlarm)

	require.Len(t, pass.Rules, 2)
	assert.Contains(t, pass.Rules[0].Error, "unknown queue mode")
	assert.Equal(t, 1, pass.Failed)
	assert.Equal(t, []string{"b", "a"}, f.host.Order())
}

func TestStartArmsTimerWhenSettingsUnreadable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, tabs.Item{ID: "a", MarkedAt: ms(now)})
	f.kv.FailPut = errors.New("disk full")

	_, err := f.eng.Start(ctx)
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 25, f.timer.armed[scheduler.AlarmName], "default schedule keeps the timer alive")

	// Still failing: nothing runs or is written, the retry is re-armed.
	writes := f.kv.Writes()
	pass := f.eng.OnTimerFired(ctx)
	assert.Empty(t, pass.Rules)
	assert.NotEmpty(t, pass.SaveError)
	assert.True(t, pass.Next.Armed)
	assert.Equal(t, writes, f.kv.Writes())
	assert.Equal(t, 25, f.timer.armed[scheduler.AlarmName])

	// Storage recovered: the next fire loads settings and runs the pass.
	f.kv.FailPut = nil
	pass = f.eng.OnTimerFired(ctx)
	require.Len(t, pass.Rules, 1)
	assert.True(t, pass.Persisted)
	assert.Equal(t, 25, f.timer.armed[scheduler.AlarmName])
}
