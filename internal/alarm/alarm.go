// Package alarm is the one-shot named timer primitive.
//
// Alarms fire once and must be re-armed explicitly. Arming a name that is
// already pending replaces it; a replaced or cleared alarm never fires.
package alarm

import (
	"strings"
	"sync"
	"time"

	logx "github.com/ewired/actionable-tabs/pkg/logx"
)

// Service manages named one-shot timers.
type Service struct {
	log logx.Logger
	// unit is the length of one "minute"; tests shrink it.
	unit   time.Duration
	now    func() time.Time
	onFire func(name string)

	mu     sync.Mutex
	timers map[string]*time.Timer
	due    map[string]time.Time
	ver    map[string]uint64
}

type Option func(*Service)

// WithUnit overrides the duration of one delay unit (default time.Minute).
func WithUnit(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.unit = d
		}
	}
}

// WithClock overrides the clock used to report due times.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(log logx.Logger, onFire func(name string), opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log,
		unit:   time.Minute,
		now:    time.Now,
		onFire: onFire,
		timers: map[string]*time.Timer{},
		due:    map[string]time.Time{},
		ver:    map[string]uint64{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Arm schedules name to fire once after delayMinutes (minimum 1).
func (s *Service) Arm(name string, delayMinutes int) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if delayMinutes < 1 {
		delayMinutes = 1
	}
	delay := time.Duration(delayMinutes) * s.unit

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		_ = t.Stop()
	}
	// bump version to ignore stale callbacks from previously armed timers
	ver := s.ver[name] + 1
	s.ver[name] = ver
	s.due[name] = s.now().Add(time.Duration(delayMinutes) * time.Minute)
	s.timers[name] = time.AfterFunc(delay, func() { s.fire(name, ver) })
	s.log.Debug("alarm armed", logx.String("name", name), logx.Int("delay_min", delayMinutes))
}

// Clear cancels a pending alarm. It reports whether one was pending.
func (s *Service) Clear(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(name)
}

func (s *Service) clearLocked(name string) bool {
	t, ok := s.timers[name]
	if !ok {
		return false
	}
	_ = t.Stop()
	delete(s.timers, name)
	delete(s.due, name)
	s.ver[name]++
	return true
}

// Due returns when name is expected to fire.
func (s *Service) Due(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.due[name]
	return at, ok
}

// Stop cancels every pending alarm.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.timers {
		s.clearLocked(name)
	}
}

func (s *Service) fire(name string, ver uint64) {
	s.mu.Lock()
	if s.ver[name] != ver {
		s.mu.Unlock()
		return
	}
	delete(s.timers, name)
	delete(s.due, name)
	cb := s.onFire
	s.mu.Unlock()

	s.log.Debug("alarm fired", logx.String("name", name))
	if cb != nil {
		cb(name)
	}
}
