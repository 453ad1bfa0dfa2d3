package scheduler

import "time"

// AlarmName is the single timer armed by the scheduler.
const AlarmName = "tab-queue-next-run"

// Timer is the one-shot timer primitive (see internal/alarm).
type Timer interface {
	Arm(name string, delayMinutes int)
	Clear(name string) bool
}

// State is the scheduler state machine:
//
//	Unarmed -> Armed -> Fired -> Unarmed -> Armed | Unarmed
type State int

const (
	Unarmed State = iota
	Armed
	Fired
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	default:
		return "unarmed"
	}
}

// Result is the outcome of ScheduleNext.
type Result struct {
	Armed        bool
	DelayMinutes int
	At           time.Time
	// RuleID is the first rule (in list order) producing the minimum delay.
	// Informational only: a firing runs every rule.
	RuleID string
}

// Snapshot is a point-in-time view for status output.
type Snapshot struct {
	State    State
	Next     time.Time
	Timezone string
}
