package engine

import (
	"context"
	"fmt"

	"github.com/ewired/actionable-tabs/internal/rules"
	"github.com/ewired/actionable-tabs/internal/tabs"
	logx "github.com/ewired/actionable-tabs/pkg/logx"
)

const manualRuleID = "manual"

// TriggerManualExecution moves exactly one actionable item chosen by mode to
// the side named by direction. It does not touch LastMoveTime or the timer.
func (e *Engine) TriggerManualExecution(ctx context.Context, mode, direction string) (ManualResult, error) {
	qm, ok := rules.ParseQueueMode(mode)
	if !ok {
		return ManualResult{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	dir, ok := rules.ParseDirection(direction)
	if !ok {
		return ManualResult{}, fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
	}

	now := e.now()
	r := rules.Rule{ID: manualRuleID, QueueMode: qm, MoveDirection: dir, MoveCount: 1}
	out, err := e.exec.Execute(ctx, r, now, true)
	if err != nil {
		e.metrics.RecordRuleFailure(manualRuleID)
		return ManualResult{}, fmt.Errorf("%w: %w", ErrRuleExecutionFailed, err)
	}
	if out.NoOp {
		return ManualResult{NoOp: true}, nil
	}

	e.journalMoves(ctx, out, now, TriggerManual)
	m := out.Moves[0]
	res := ManualResult{ItemID: m.ItemID, OldIndex: m.OldIndex, NewIndex: m.NewIndex, DidMove: m.DidMove}
	failed := 0
	if m.Err != nil {
		res.Error = m.Err.Error()
		failed = 1
	}
	e.metrics.RecordMoves(out.MovedCount(), failed)
	e.log.Info("manual move",
		logx.String("queue_mode", string(qm)),
		logx.String("direction", string(dir)),
		logx.String("item_id", m.ItemID),
		logx.Bool("moved", m.DidMove),
	)
	return res, nil
}

// ClearAllActionableMarks unflags every actionable item and returns how many
// were cleared. Items that fail to clear are logged and skipped.
func (e *Engine) ClearAllActionableMarks(ctx context.Context) (int, error) {
	items, err := e.host.EnumerateItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("enumerate items: %w", err)
	}
	cleared := 0
	for _, it := range tabs.FilterActionable(items) {
		if err := e.host.ClearMark(ctx, it.ID); err != nil {
			e.log.Warn("clear mark failed", logx.String("item_id", it.ID), logx.Err(err))
			continue
		}
		cleared++
	}
	e.log.Info("actionable marks cleared", logx.Int("cleared", cleared))
	return cleared, nil
}
