// Package rules defines the rule model: what a rule selects, where it moves
// items, and when it fires.
package rules

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// CurrentVersion is the settings envelope format tag.
const CurrentVersion = 2

// LegacyRuleID is assigned to the single rule synthesized from the flat legacy format.
const LegacyRuleID = "legacy-rule"

const (
	MinMoveCount = 1
	MaxMoveCount = 10
)

const DefaultCronSchedule = "*/30 * * * *"

var (
	ErrEmptyRuleSet = errors.New("rule set must contain at least one rule")
	ErrInvalidRule  = errors.New("invalid rule")
)

// QueueMode ranks actionable items when a rule executes.
type QueueMode string

const (
	QueueOldest    QueueMode = "oldest"
	QueueNewest    QueueMode = "newest"
	QueueLeftmost  QueueMode = "leftmost"
	QueueRightmost QueueMode = "rightmost"
)

// Direction picks the destination of moved items.
type Direction string

const (
	// DirectionLeft inserts right after the pinned items.
	DirectionLeft Direction = "left"
	// DirectionRight appends at the end of the collection.
	DirectionRight Direction = "right"
)

// Rule is an independently schedulable move policy.
type Rule struct {
	ID                string    `json:"id"`
	CronSchedule      string    `json:"cronSchedule"`
	QueueMode         QueueMode `json:"queueMode"`
	MoveCount         int       `json:"moveCount"`
	MoveDirection     Direction `json:"moveDirection"`
	ShowNotifications bool      `json:"showNotifications"`
	// LastMoveTime is unix millis of the last automatic firing; nil means never fired.
	LastMoveTime *int64 `json:"lastMoveTime"`
}

// Settings is the persisted envelope.
type Settings struct {
	Version int    `json:"version"`
	Rules   []Rule `json:"rules"`
}

// NewID returns a fresh rule identifier.
func NewID() string { return uuid.NewString() }

// Default returns the rule created on first install.
func Default() Rule {
	return Rule{
		ID:                NewID(),
		CronSchedule:      DefaultCronSchedule,
		QueueMode:         QueueLeftmost,
		MoveCount:         1,
		MoveDirection:     DirectionLeft,
		ShowNotifications: true,
	}
}

// DefaultSettings returns a versioned envelope with one default rule.
func DefaultSettings() Settings {
	return Settings{Version: CurrentVersion, Rules: []Rule{Default()}}
}

// Manual reports whether the rule only runs on demand.
func (r Rule) Manual() bool { return strings.TrimSpace(r.CronSchedule) == "" }

// Clone deep-copies a rule list (LastMoveTime pointers included).
func Clone(in []Rule) []Rule {
	if in == nil {
		return nil
	}
	out := make([]Rule, len(in))
	for i, r := range in {
		if r.LastMoveTime != nil {
			v := *r.LastMoveTime
			r.LastMoveTime = &v
		}
		out[i] = r
	}
	return out
}

// MostRecentLastMoveTime returns the maximum non-nil LastMoveTime, or nil.
func MostRecentLastMoveTime(rs []Rule) *int64 {
	var best *int64
	for _, r := range rs {
		if r.LastMoveTime == nil {
			continue
		}
		if best == nil || *r.LastMoveTime > *best {
			v := *r.LastMoveTime
			best = &v
		}
	}
	return best
}
