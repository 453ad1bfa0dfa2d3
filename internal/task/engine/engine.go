package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ewired/actionable-tabs/internal/eventbus"
	"github.com/ewired/actionable-tabs/internal/metrics"
	"github.com/ewired/actionable-tabs/internal/rules"
	"github.com/ewired/actionable-tabs/internal/rulestore"
	"github.com/ewired/actionable-tabs/internal/storage"
	"github.com/ewired/actionable-tabs/internal/tabs"
	"github.com/ewired/actionable-tabs/internal/task/executor"
	"github.com/ewired/actionable-tabs/internal/task/scheduler"
	logx "github.com/ewired/actionable-tabs/pkg/logx"
)

// Notifier shows a user-visible message. notifier.Service satisfies it.
type Notifier interface {
	Notify(title, message string) error
}

// Journal records executed moves. storage.Store satisfies it.
type Journal interface {
	AppendMove(ctx context.Context, rec storage.MoveRecord) error
	RecentMoves(ctx context.Context, limit int) ([]storage.MoveRecord, error)
}

// Deps wires the engine. Rules, Host and Scheduler are required.
type Deps struct {
	Rules     *rulestore.Store
	Host      tabs.Host
	Scheduler *scheduler.Service
	Notifier  Notifier
	Journal   Journal
	Metrics   metrics.Recorder
	Bus       eventbus.Bus
	Log       logx.Logger
	Now       func() time.Time

	HistorySize int
}

type Engine struct {
	rules   *rulestore.Store
	host    tabs.Host
	exec    *executor.Executor
	sched   *scheduler.Service
	notify  Notifier
	journal Journal
	metrics metrics.Recorder
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	mu          sync.Mutex
	current     []rules.Rule // last rules successfully loaded or saved
	saveErr     error
	history     []PassResult
	historySize int
}

func New(d Deps) (*Engine, error) {
	if d.Rules == nil || d.Host == nil || d.Scheduler == nil {
		return nil, errors.New("engine: rules, host and scheduler are required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.HistorySize <= 0 {
		d.HistorySize = defaultHistorySize
	}
	return &Engine{
		rules:       d.Rules,
		host:        d.Host,
		exec:        executor.New(d.Host, d.Log.With(logx.String("comp", "executor"))),
		sched:       d.Scheduler,
		notify:      d.Notifier,
		journal:     d.Journal,
		metrics:     d.Metrics,
		bus:         d.Bus,
		log:         d.Log,
		now:         d.Now,
		historySize: d.HistorySize,
	}, nil
}

// Settings returns the persisted settings, migrating legacy state on first use.
func (e *Engine) Settings(ctx context.Context) (rules.Settings, error) {
	st, err := e.rules.Load(ctx)
	if err != nil {
		e.setSaveErr(err)
		return rules.Settings{}, err
	}
	e.setCurrent(st.Rules)
	return st, nil
}

// MutateRules replaces the rule list (add, remove, reorder, edit). Rules
// without an ID get a fresh one and legacy enum spellings are rewritten. An empty or invalid list is rejected and
// the previous state is retained. The timer is re-armed when the rule set or
// any schedule changed.
func (e *Engine) MutateRules(ctx context.Context, rs []rules.Rule) (rules.Settings, error) {
	prev := e.currentRules()
	if prev == nil {
		if st, err := e.Settings(ctx); err == nil {
			prev = st.Rules
		}
	}

	next := rules.Clone(rs)
	for i := range next {
		if strings.TrimSpace(next[i].ID) == "" {
			next[i].ID = rules.NewID()
		}
		rules.Canonicalize(&next[i])
	}
	if err := e.rules.Save(ctx, next); err != nil {
		if errors.Is(err, rulestore.ErrPersistence) {
			e.setSaveErr(err)
		}
		return rules.Settings{}, err
	}
	e.setSaveErr(nil)
	e.setCurrent(next)
	for id, werr := range rules.ScheduleWarnings(next) {
		e.log.Warn("rule schedule cannot be evaluated; using fallback delay", logx.String("rule_id", id), logx.Err(werr))
	}

	if schedulesDiffer(prev, next) {
		e.reschedule(next, e.now())
	}
	return rules.Settings{Version: rules.CurrentVersion, Rules: rules.Clone(next)}, nil
}

// Status projects the collection counts and scheduling state.
// Counts are zero when the host cannot be read; the error is returned too.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	snap := e.sched.Snapshot()
	st := Status{
		SchedulerState: snap.State.String(),
		Timezone:       snap.Timezone,
	}
	if !snap.Next.IsZero() {
		ms := snap.Next.UnixMilli()
		st.NextScheduledTime = &ms
	}

	rs := e.currentRules()
	if rs == nil {
		if loaded, err := e.Settings(ctx); err == nil {
			rs = loaded.Rules
		}
	}
	st.LastMoveTime = rules.MostRecentLastMoveTime(rs)
	if err := e.lastSaveErr(); err != nil {
		st.SaveError = err.Error()
	}

	items, err := e.host.EnumerateItems(ctx)
	if err != nil {
		return st, fmt.Errorf("enumerate items: %w", err)
	}
	c := tabs.Count(items)
	st.ActionableCount, st.PinnedCount, st.TotalCount = c.Actionable, c.Pinned, c.Total
	return st, nil
}

// SetTimezone switches the cron evaluation zone and re-arms.
func (e *Engine) SetTimezone(tz string) {
	e.sched.SetTimezone(tz)
	if rs := e.currentRules(); rs != nil {
		e.reschedule(rs, e.now())
	}
}

// History returns recent passes, oldest first.
func (e *Engine) History() []PassResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]PassResult(nil), e.history...)
}

// RecentMoves returns the newest journaled moves. Without a journal it is empty.
func (e *Engine) RecentMoves(ctx context.Context, limit int) ([]storage.MoveRecord, error) {
	if e.journal == nil {
		return nil, nil
	}
	return e.journal.RecentMoves(ctx, limit)
}

func (e *Engine) reschedule(rs []rules.Rule, now time.Time) scheduler.Result {
	res := e.sched.ScheduleNext(rs, now)
	e.metrics.SetNextWake(res.At)
	return res
}

func (e *Engine) setCurrent(rs []rules.Rule) {
	e.mu.Lock()
	e.current = rules.Clone(rs)
	e.mu.Unlock()
}

func (e *Engine) currentRules() []rules.Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return rules.Clone(e.current)
}

func (e *Engine) setSaveErr(err error) {
	e.mu.Lock()
	e.saveErr = err
	e.mu.Unlock()
}

func (e *Engine) lastSaveErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saveErr
}

func (e *Engine) appendHistory(p PassResult) {
	e.mu.Lock()
	e.history = append(e.history, p)
	if len(e.history) > e.historySize {
		e.history = e.history[len(e.history)-e.historySize:]
	}
	e.mu.Unlock()
}

func schedulesDiffer(a, b []rules.Rule) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].CronSchedule != b[i].CronSchedule {
			return true
		}
	}
	return false
}
