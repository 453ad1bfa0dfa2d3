package engine

import (
	"time"

	"github.com/ewired/actionable-tabs/internal/task/scheduler"
)

// Trigger names what started a pass. It is journaled with every move.
type Trigger string

const (
	TriggerAlarm   Trigger = "alarm"
	TriggerCatchUp Trigger = "catchup"
	TriggerManual  Trigger = "manual"
)

const defaultHistorySize = 50

// RuleResult is one rule's share of a pass.
type RuleResult struct {
	RuleID      string `json:"ruleId"`
	NoOp        bool   `json:"noOp,omitempty"`
	Moved       int    `json:"moved"`
	FailedMoves int    `json:"failedMoves,omitempty"`
	Notified    bool   `json:"notified,omitempty"`
	Error       string `json:"error,omitempty"`
}

// PassResult summarizes one ExecuteAll call.
type PassResult struct {
	Trigger   Trigger          `json:"trigger"`
	At        time.Time        `json:"at"`
	Duration  time.Duration    `json:"duration"`
	Rules     []RuleResult     `json:"rules"`
	Failed    int              `json:"failed"`
	Moved     int              `json:"moved"`
	Persisted bool             `json:"persisted"`
	SaveError string           `json:"saveError,omitempty"`
	Next      scheduler.Result `json:"-"`
}

// ManualResult is the single-item outcome of TriggerManualExecution.
type ManualResult struct {
	NoOp     bool   `json:"noOp"`
	ItemID   string `json:"itemId,omitempty"`
	OldIndex int    `json:"oldIndex"`
	NewIndex int    `json:"newIndex"`
	DidMove  bool   `json:"didMove"`
	Error    string `json:"error,omitempty"`
}

// Status is the read-only projection shown to the user. Timestamps are
// milliseconds since epoch; nil means unknown or never.
type Status struct {
	ActionableCount   int    `json:"actionableCount"`
	PinnedCount       int    `json:"pinnedCount"`
	TotalCount        int    `json:"totalCount"`
	LastMoveTime      *int64 `json:"lastMoveTime"`
	NextScheduledTime *int64 `json:"nextScheduledTime"`
	SchedulerState    string `json:"schedulerState"`
	Timezone          string `json:"timezone"`
	SaveError         string `json:"saveError,omitempty"`
}
