// Package rulestore owns the persisted rule list: loading, one-time migration
// from the legacy flat format, and the single validated write path.
package rulestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ewired/actionable-tabs/internal/eventbus"
	"github.com/ewired/actionable-tabs/internal/rules"
	"github.com/ewired/actionable-tabs/internal/storage"
	logx "github.com/ewired/actionable-tabs/pkg/logx"
)

// Persisted keys of the versioned envelope.
const (
	KeyVersion = "version"
	KeyRules   = "rules"
)

var ErrPersistence = errors.New("settings persistence failed")

// Change is the payload of eventbus.SettingsChanged.
type Change struct {
	Settings rules.Settings
	// SchedulesChanged is true when the rule set or any cron schedule differs
	// from the previously saved state.
	SchedulesChanged bool
}

type Store struct {
	kv  storage.Store
	log logx.Logger
	bus eventbus.Bus

	mu   sync.Mutex
	last []rules.Rule // last loaded/saved, for change detection
}

func New(kv storage.Store, log logx.Logger, bus eventbus.Bus) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{kv: kv, log: log, bus: bus}
}

// Load reads persisted settings, migrating or initializing them as needed.
// Repeated calls with no external change perform no writes.
func (s *Store) Load(ctx context.Context) (rules.Settings, error) {
	rawVersion, hasVersion, err := s.kv.Get(ctx, KeyVersion)
	if err != nil {
		return rules.Settings{}, fmt.Errorf("%w: read version: %v", ErrPersistence, err)
	}
	rawRules, hasRules, err := s.kv.Get(ctx, KeyRules)
	if err != nil {
		return rules.Settings{}, fmt.Errorf("%w: read rules: %v", ErrPersistence, err)
	}

	if !hasVersion {
		legacy, found, err := s.readLegacy(ctx)
		if err != nil {
			return rules.Settings{}, err
		}
		if found {
			return s.migrateLegacy(ctx, legacy)
		}
		if !hasRules {
			st := rules.DefaultSettings()
			if err := s.write(ctx, st); err != nil {
				return rules.Settings{}, err
			}
			s.log.Info("settings initialized", logx.String("rule_id", st.Rules[0].ID))
			s.remember(st.Rules)
			return st, nil
		}
		// rules without a version marker: adopt them and stamp the version below
	}

	version := rules.CurrentVersion
	if hasVersion {
		if err := json.Unmarshal(rawVersion, &version); err != nil {
			s.log.Warn("settings version unreadable; rewriting", logx.Err(err))
			version = 0
		}
	}

	var rs []rules.Rule
	repaired := !hasVersion || version != rules.CurrentVersion
	if hasRules {
		if err := json.Unmarshal(rawRules, &rs); err != nil {
			s.log.Warn("settings rules unreadable; resetting to defaults", logx.Err(err))
			rs = nil
		}
	}
	if len(rs) == 0 {
		rs = []rules.Rule{rules.Default()}
		repaired = true
	}
	if repairRules(rs) {
		repaired = true
	}

	st := rules.Settings{Version: rules.CurrentVersion, Rules: rs}
	if repaired {
		if err := s.write(ctx, st); err != nil {
			return rules.Settings{}, err
		}
		s.log.Info("settings repaired", logx.Int("rules", len(rs)))
	}
	s.remember(st.Rules)
	return st, nil
}

// Save validates and persists rs with legacy enum spellings rewritten to
// their current names. An empty list is rejected and the previous state is
// retained.
func (s *Store) Save(ctx context.Context, rs []rules.Rule) error {
	if len(rs) == 0 {
		s.log.Warn("refusing to save empty rule set")
		return rules.ErrEmptyRuleSet
	}
	if err := rules.Validate(rs); err != nil {
		s.log.Warn("refusing to save invalid rule set", logx.Err(err))
		return err
	}
	st := rules.Settings{Version: rules.CurrentVersion, Rules: rules.Clone(rs)}
	for i := range st.Rules {
		rules.Canonicalize(&st.Rules[i])
	}
	if err := s.write(ctx, st); err != nil {
		s.log.Error("settings save failed", logx.Err(err))
		return err
	}

	s.mu.Lock()
	changed := schedulesDiffer(s.last, st.Rules)
	s.last = rules.Clone(st.Rules)
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.SettingsChanged,
			Data: Change{Settings: rules.Settings{Version: st.Version, Rules: rules.Clone(st.Rules)}, SchedulesChanged: changed},
		})
	}
	return nil
}

// MostRecentLastMoveTime returns the latest LastMoveTime across rs, or nil.
func (s *Store) MostRecentLastMoveTime(rs []rules.Rule) *int64 {
	return rules.MostRecentLastMoveTime(rs)
}

func (s *Store) write(ctx context.Context, st rules.Settings) error {
	vb, err := json.Marshal(st.Version)
	if err != nil {
		return err
	}
	rb, err := json.Marshal(st.Rules)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, map[string][]byte{KeyVersion: vb, KeyRules: rb}); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Store) remember(rs []rules.Rule) {
	s.mu.Lock()
	s.last = rules.Clone(rs)
	s.mu.Unlock()
}

// repairRules normalizes every rule and regenerates duplicate ids.
func repairRules(rs []rules.Rule) bool {
	changed := false
	seen := make(map[string]struct{}, len(rs))
	for i := range rs {
		if rules.Normalize(&rs[i]) {
			changed = true
		}
		if _, dup := seen[rs[i].ID]; dup {
			rs[i].ID = rules.NewID()
			changed = true
		}
		seen[rs[i].ID] = struct{}{}
	}
	return changed
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
