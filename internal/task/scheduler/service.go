package scheduler

import (
	"strings"
	"sync"
	"time"

	"github.com/ewired/actionable-tabs/internal/cronexpr"
	"github.com/ewired/actionable-tabs/internal/rules"
	logx "github.com/ewired/actionable-tabs/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	timer Timer
	loc   *time.Location

	state State
	next  time.Time
}

// New creates a scheduler. An empty or invalid timezone falls back to Local.
func New(timer Timer, timezone string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{timer: timer, log: log}
	s.loc = loadLocation(timezone, log)
	return s
}

// Location is the timezone cron expressions are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// SetTimezone swaps the evaluation timezone. Callers re-run ScheduleNext afterwards.
func (s *Service) SetTimezone(tz string) {
	loc := loadLocation(tz, s.log)
	s.mu.Lock()
	s.loc = loc
	s.mu.Unlock()
}

// ScheduleNext arms the timer for the earliest wake-up across rs, or leaves
// it cleared when every rule is manual-only.
func (s *Service) ScheduleNext(rs []rules.Rule, now time.Time) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now = now.In(s.loc)
	var (
		best   Result
		bestAt time.Time
	)
	for _, r := range rs {
		delay, ok := cronexpr.DelayMinutesUntilNext(r.CronSchedule, now)
		if !ok {
			continue
		}
		at := now.Add(time.Duration(delay) * time.Minute)
		if !best.Armed || at.Before(bestAt) {
			best = Result{Armed: true, DelayMinutes: delay, At: at, RuleID: r.ID}
			bestAt = at
		}
	}

	if s.timer != nil {
		s.timer.Clear(AlarmName)
	}
	if !best.Armed {
		s.state = Unarmed
		s.next = time.Time{}
		s.log.Info("no scheduled rules; timer cleared", logx.Int("rules", len(rs)))
		return best
	}

	if best.DelayMinutes < 1 {
		best.DelayMinutes = 1
	}
	if s.timer != nil {
		s.timer.Arm(AlarmName, best.DelayMinutes)
	}
	s.state = Armed
	s.next = best.At
	s.log.Info("next run scheduled",
		logx.Int("delay_min", best.DelayMinutes),
		logx.Time("at", best.At),
		logx.String("rule_id", best.RuleID),
	)
	return best
}

// Fired records that the armed timer went off. The caller runs the pass and
// then calls ScheduleNext.
func (s *Service) Fired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Armed {
		s.log.Debug("timer fired while not armed", logx.String("state", s.state.String()))
	}
	s.state = Fired
	s.next = time.Time{}
}

// Clear disarms the timer without scheduling anything.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Clear(AlarmName)
	}
	s.state = Unarmed
	s.next = time.Time{}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, Next: s.next, Timezone: s.loc.String()}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
