package engine

import (
	"errors"

	"github.com/ewired/actionable-tabs/internal/cronexpr"
	"github.com/ewired/actionable-tabs/internal/rules"
	"github.com/ewired/actionable-tabs/internal/rulestore"
	"github.com/ewired/actionable-tabs/internal/task/executor"
)

var (
	// ErrRuleExecutionFailed wraps a per-rule failure inside a pass. The pass
	// continues with the next rule.
	ErrRuleExecutionFailed = errors.New("rule execution failed")

	// ErrInvalidMode and ErrInvalidDirection reject manual trigger arguments.
	ErrInvalidMode      = errors.New("invalid queue mode")
	ErrInvalidDirection = errors.New("invalid move direction")
)

// Re-exported so callers of the engine API can match every failure class
// with errors.Is against one package.
var (
	ErrInvalidExpression = cronexpr.ErrInvalidExpression
	ErrMoveFailed        = executor.ErrMoveFailed
	ErrEmptyRuleSet      = rules.ErrEmptyRuleSet
	ErrInvalidRule       = rules.ErrInvalidRule
	ErrPersistence       = rulestore.ErrPersistence
)
