package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ewired/actionable-tabs/internal/eventbus"
	"github.com/ewired/actionable-tabs/internal/notifier"
	"github.com/ewired/actionable-tabs/internal/rules"
	"github.com/ewired/actionable-tabs/internal/storage"
	"github.com/ewired/actionable-tabs/internal/task/executor"
	logx "github.com/ewired/actionable-tabs/pkg/logx"
)

const notificationTitle = "Actionable Tabs"

// ExecuteAll runs every rule in list order. A failing rule is logged and
// skipped. Rules that were attempted against a non-empty set of actionable
// items get LastMoveTime = now, even if every move failed. Two kinds of rule
// are not stamped: NoOp rules (no actionable items) and rules that failed
// with ErrRuleExecutionFailed before any move (unreadable collection,
// unknown mode or direction). The updated list is persisted in one write,
// then the timer is re-armed.
func (e *Engine) ExecuteAll(ctx context.Context, rs []rules.Rule, now time.Time, trigger Trigger) PassResult {
	started := time.Now()
	pass := PassResult{Trigger: trigger, At: now, Rules: make([]RuleResult, 0, len(rs))}
	log := e.log.With(logx.String("trigger", string(trigger)))

	updated := rules.Clone(rs)
	stamped := false
	for i := range updated {
		rr, attempted := e.runRule(ctx, updated[i], now, trigger)
		if rr.Error != "" {
			pass.Failed++
		}
		pass.Moved += rr.Moved
		pass.Rules = append(pass.Rules, rr)
		if attempted {
			ms := now.UnixMilli()
			updated[i].LastMoveTime = &ms
			stamped = true
		}
	}

	if stamped {
		if err := e.rules.Save(ctx, updated); err != nil {
			pass.SaveError = err.Error()
			e.setSaveErr(err)
			log.Error("pass results not persisted", logx.Err(err))
		} else {
			pass.Persisted = true
			e.setSaveErr(nil)
			e.setCurrent(updated)
		}
	}

	pass.Next = e.reschedule(updated, now)
	pass.Duration = time.Since(started)
	e.metrics.RecordPass(string(trigger), pass.Duration)
	e.appendHistory(pass)
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{
			Type: eventbus.PassCompleted,
			Data: eventbus.PassSummary{Trigger: string(trigger), Rules: len(rs), Failed: pass.Failed, ItemsMoved: pass.Moved},
		})
	}

	log.Info("pass completed",
		logx.Int("rules", len(rs)),
		logx.Int("failed", pass.Failed),
		logx.Int("moved", pass.Moved),
		logx.Bool("persisted", pass.Persisted),
		logx.Duration("took", pass.Duration),
	)
	return pass
}

// runRule executes one rule and reports whether it counts as attempted.
func (e *Engine) runRule(ctx context.Context, r rules.Rule, now time.Time, trigger Trigger) (RuleResult, bool) {
	rr := RuleResult{RuleID: r.ID}

	out, err := e.exec.Execute(ctx, r, now, false)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrRuleExecutionFailed, r.ID, err)
		rr.Error = err.Error()
		e.metrics.RecordRuleFailure(r.ID)
		e.log.Error("rule failed; continuing pass", logx.String("rule_id", r.ID), logx.Err(err))
		return rr, false
	}
	if out.NoOp {
		rr.NoOp = true
		return rr, false
	}

	e.journalMoves(ctx, out, now, trigger)
	rr.Moved = out.MovedCount()
	rr.FailedMoves = failedMoves(out)
	e.metrics.RecordMoves(rr.Moved, rr.FailedMoves)

	if out.AnyMoved && r.ShowNotifications {
		rr.Notified = e.sendNotification(r, rr.Moved)
	}
	return rr, true
}

func (e *Engine) sendNotification(r rules.Rule, moved int) bool {
	if e.notify == nil {
		return false
	}
	err := e.notify.Notify(notificationTitle, MoveMessage(moved, r.MoveDirection))
	switch {
	case err == nil:
		return true
	case errors.Is(err, notifier.ErrDisabled):
		e.log.Debug("notification skipped; notifier disabled", logx.String("rule_id", r.ID))
	default:
		e.log.Warn("notification failed", logx.String("rule_id", r.ID), logx.Err(err))
	}
	return false
}

// MoveMessage is the notification body for a rule that moved items.
func MoveMessage(moved int, dir rules.Direction) string {
	noun := "tabs"
	if moved == 1 {
		noun = "tab"
	}
	where := "to the front"
	if dir == rules.DirectionRight {
		where = "to the end"
	}
	return fmt.Sprintf("Moved %d actionable %s %s", moved, noun, where)
}

func (e *Engine) journalMoves(ctx context.Context, out executor.Outcome, now time.Time, trigger Trigger) {
	if e.journal == nil {
		return
	}
	for _, m := range out.Moves {
		rec := storage.MoveRecord{
			At:       now,
			Trigger:  string(trigger),
			RuleID:   out.RuleID,
			ItemID:   m.ItemID,
			OldIndex: m.OldIndex,
			NewIndex: m.NewIndex,
			Moved:    m.DidMove,
		}
		if m.Err != nil {
			rec.Error = m.Err.Error()
		}
		if err := e.journal.AppendMove(ctx, rec); err != nil {
			e.log.Warn("move journal append failed", logx.String("item_id", m.ItemID), logx.Err(err))
			return
		}
	}
}

func failedMoves(out executor.Outcome) int {
	n := 0
	for _, m := range out.Moves {
		if m.Err != nil {
			n++
		}
	}
	return n
}
