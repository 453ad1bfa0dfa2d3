package rules

import (
	"fmt"
	"strings"

	"github.com/ewired/actionable-tabs/internal/cronexpr"
)

// legacy spellings written by older releases.
var queueModeAliases = map[string]QueueMode{
	"fifo":  QueueOldest,
	"lifo":  QueueNewest,
	"first": QueueLeftmost,
	"last":  QueueRightmost,
	"left":  QueueLeftmost,
	"right": QueueRightmost,
}

// ParseQueueMode accepts current and legacy spellings (case-insensitive).
func ParseQueueMode(s string) (QueueMode, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch QueueMode(v) {
	case QueueOldest, QueueNewest, QueueLeftmost, QueueRightmost:
		return QueueMode(v), true
	}
	m, ok := queueModeAliases[v]
	return m, ok
}

// ParseDirection accepts "left"/"right" plus the older "front"/"back".
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "front", "start":
		return DirectionLeft, true
	case "right", "back", "end":
		return DirectionRight, true
	}
	return "", false
}

// ClampMoveCount forces n into [MinMoveCount, MaxMoveCount].
func ClampMoveCount(n int) int {
	if n < MinMoveCount {
		return MinMoveCount
	}
	if n > MaxMoveCount {
		return MaxMoveCount
	}
	return n
}

// Canonicalize rewrites legacy queue mode and direction spellings to their
// current names. Unknown values are left alone for Validate to reject.
// It reports whether r was changed.
func Canonicalize(r *Rule) bool {
	changed := false
	if m, ok := ParseQueueMode(string(r.QueueMode)); ok && m != r.QueueMode {
		r.QueueMode = m
		changed = true
	}
	if d, ok := ParseDirection(string(r.MoveDirection)); ok && d != r.MoveDirection {
		r.MoveDirection = d
		changed = true
	}
	return changed
}

// Normalize migrates stale enum spellings and repairs out-of-range fields.
// It reports whether r was changed.
func Normalize(r *Rule) bool {
	changed := false
	if strings.TrimSpace(r.ID) == "" {
		r.ID = NewID()
		changed = true
	}
	if m, ok := ParseQueueMode(string(r.QueueMode)); !ok {
		r.QueueMode = QueueLeftmost
		changed = true
	} else if m != r.QueueMode {
		r.QueueMode = m
		changed = true
	}
	if d, ok := ParseDirection(string(r.MoveDirection)); !ok {
		r.MoveDirection = DirectionLeft
		changed = true
	} else if d != r.MoveDirection {
		r.MoveDirection = d
		changed = true
	}
	if c := ClampMoveCount(r.MoveCount); c != r.MoveCount {
		r.MoveCount = c
		changed = true
	}
	return changed
}

// Validate checks a rule list before it is persisted.
// Invalid cron expressions are not rejected here: they degrade at evaluation time.
func Validate(rs []Rule) error {
	if len(rs) == 0 {
		return ErrEmptyRuleSet
	}
	seen := make(map[string]struct{}, len(rs))
	for i, r := range rs {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("%w: rules[%d]: id required", ErrInvalidRule, i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: rules[%d]: duplicate id %q", ErrInvalidRule, i, r.ID)
		}
		seen[r.ID] = struct{}{}
		if _, ok := ParseQueueMode(string(r.QueueMode)); !ok {
			return fmt.Errorf("%w: rules[%d]: unknown queue mode %q", ErrInvalidRule, i, r.QueueMode)
		}
		if _, ok := ParseDirection(string(r.MoveDirection)); !ok {
			return fmt.Errorf("%w: rules[%d]: unknown move direction %q", ErrInvalidRule, i, r.MoveDirection)
		}
		if r.MoveCount < MinMoveCount || r.MoveCount > MaxMoveCount {
			return fmt.Errorf("%w: rules[%d]: move count %d out of range [%d,%d]", ErrInvalidRule, i, r.MoveCount, MinMoveCount, MaxMoveCount)
		}
	}
	return nil
}

// ScheduleWarnings lists rules whose schedule cannot be evaluated.
// Those rules still get re-checked on the fallback delay.
func ScheduleWarnings(rs []Rule) map[string]error {
	out := map[string]error{}
	for _, r := range rs {
		if err := cronexpr.Validate(r.CronSchedule); err != nil {
			out[r.ID] = err
		}
	}
	return out
}
