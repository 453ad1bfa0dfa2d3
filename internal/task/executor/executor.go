// Package executor runs a single rule against the host collection: it ranks
// actionable items, picks a batch, and moves them to the destination.
//
// The executor never touches scheduling state (LastMoveTime) and never
// notifies; the engine owns both.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ewired/actionable-tabs/internal/rules"
	"github.com/ewired/actionable-tabs/internal/tabs"
	logx "github.com/ewired/actionable-tabs/pkg/logx"
)

var (
	// ErrMoveFailed marks a per-item failure recorded in MoveResult.Err.
	ErrMoveFailed = errors.New("move failed")
	// ErrEnumerate is returned when the host snapshot cannot be read.
	ErrEnumerate = errors.New("enumerate items failed")

	ErrUnknownQueueMode = errors.New("unknown queue mode")
	ErrUnknownDirection = errors.New("unknown move direction")
)

// MoveResult is the outcome of one requested move.
type MoveResult struct {
	ItemID   string
	OldIndex int
	NewIndex int
	DidMove  bool
	Err      error
}

// Outcome aggregates one rule execution.
type Outcome struct {
	RuleID string
	// NoOp is true when there were no actionable items.
	NoOp     bool
	Moves    []MoveResult
	AnyMoved bool
}

// MovedCount returns how many items actually changed position.
func (o Outcome) MovedCount() int {
	n := 0
	for _, m := range o.Moves {
		if m.DidMove {
			n++
		}
	}
	return n
}

type Executor struct {
	host tabs.Host
	log  logx.Logger
}

func New(host tabs.Host, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{host: host, log: log}
}

// Execute applies r to the current collection. Manual executions move exactly
// one item regardless of MoveCount. Errors are an unknown queue mode or
// direction (the host is not touched) or a failure to read the collection;
// individual move failures are recorded in the outcome.
func (e *Executor) Execute(ctx context.Context, r rules.Rule, now time.Time, manual bool) (Outcome, error) {
	out := Outcome{RuleID: r.ID}

	mode, ok := rules.ParseQueueMode(string(r.QueueMode))
	if !ok {
		return out, fmt.Errorf("%w: %q", ErrUnknownQueueMode, r.QueueMode)
	}
	dir, ok := rules.ParseDirection(string(r.MoveDirection))
	if !ok {
		return out, fmt.Errorf("%w: %q", ErrUnknownDirection, r.MoveDirection)
	}

	items, err := e.host.EnumerateItems(ctx)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrEnumerate, err)
	}
	actionable := tabs.FilterActionable(items)
	if len(actionable) == 0 {
		out.NoOp = true
		e.log.Debug("no actionable items", logx.String("rule_id", r.ID))
		return out, nil
	}

	if err := SortByQueueMode(actionable, mode); err != nil {
		return out, err
	}
	base, err := DestinationBase(items, dir)
	if err != nil {
		return out, err
	}

	n := r.MoveCount
	if manual {
		n = 1
	}
	if n > len(actionable) {
		n = len(actionable)
	}
	if n < 1 {
		n = 1
	}

	out.Moves = make([]MoveResult, 0, n)
	for i, it := range actionable[:n] {
		res := MoveResult{ItemID: it.ID, OldIndex: it.Index, NewIndex: it.Index}
		newIndex, err := e.host.MoveItem(ctx, it.ID, base+i)
		if err != nil {
			res.Err = fmt.Errorf("%w: %s: %v", ErrMoveFailed, it.ID, err)
			e.log.Warn("move failed; continuing batch",
				logx.String("rule_id", r.ID),
				logx.String("item_id", it.ID),
				logx.Int("dest", base+i),
				logx.Err(err),
			)
		} else {
			res.NewIndex = newIndex
			res.DidMove = newIndex != it.Index
		}
		if res.DidMove {
			out.AnyMoved = true
		}
		out.Moves = append(out.Moves, res)
	}

	e.log.Debug("rule executed",
		logx.String("rule_id", r.ID),
		logx.String("queue_mode", string(mode)),
		logx.String("direction", string(dir)),
		logx.Int("selected", n),
		logx.Int("moved", out.MovedCount()),
		logx.Bool("manual", manual),
		logx.Time("at", now),
	)
	return out, nil
}

// SortByQueueMode orders items in place. The sort is stable: equal keys keep
// their snapshot order. Items without MarkedAt sort as if marked at 0.
// Legacy spellings are accepted; anything else is ErrUnknownQueueMode and
// items are left untouched.
func SortByQueueMode(items []tabs.Item, mode rules.QueueMode) error {
	marked := func(it tabs.Item) int64 {
		if it.MarkedAt == nil {
			return 0
		}
		return *it.MarkedAt
	}
	m, _ := rules.ParseQueueMode(string(mode))
	var less func(a, b tabs.Item) bool
	switch m {
	case rules.QueueOldest:
		less = func(a, b tabs.Item) bool { return marked(a) < marked(b) }
	case rules.QueueNewest:
		less = func(a, b tabs.Item) bool { return marked(a) > marked(b) }
	case rules.QueueRightmost:
		less = func(a, b tabs.Item) bool { return a.Index > b.Index }
	case rules.QueueLeftmost:
		less = func(a, b tabs.Item) bool { return a.Index < b.Index }
	default:
		return fmt.Errorf("%w: %q", ErrUnknownQueueMode, mode)
	}
	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
	return nil
}

// DestinationBase is the index the first moved item is sent to: the end of
// the collection for right, just after the pinned items for left.
func DestinationBase(items []tabs.Item, dir rules.Direction) (int, error) {
	d, _ := rules.ParseDirection(string(dir))
	switch d {
	case rules.DirectionRight:
		return len(items), nil
	case rules.DirectionLeft:
		return tabs.Count(items).Pinned, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDirection, dir)
}
