// Package cronexpr evaluates cron expressions for rule scheduling.
//
// Both 5-field ("*/30 * * * *") and 6-field (leading seconds) forms are
// accepted, as are descriptors like "@hourly". The evaluator only answers
// two questions: when is the next occurrence, and how many occurrences fell
// inside a window.
package cronexpr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidExpression = errors.New("invalid cron expression")
	ErrNoOccurrence      = errors.New("cron expression never fires")
)

const (
	// FallbackDelayMinutes is used when a non-empty schedule cannot be evaluated,
	// so a broken schedule is still re-checked periodically.
	FallbackDelayMinutes = 30

	// MaxMissedIterations bounds CountMissedOccurrences for near-continuous schedules.
	MaxMissedIterations = 10000
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// IsManual reports whether expr means "no scheduled run".
func IsManual(expr string) bool { return strings.TrimSpace(expr) == "" }

// Parse parses expr into a robfig schedule.
func Parse(expr string) (cron.Schedule, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidExpression)
	}
	sched, err := parser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidExpression, expr, err)
	}
	return sched, nil
}

// Validate returns nil for empty (manual-only) or parseable expressions.
func Validate(expr string) error {
	if IsManual(expr) {
		return nil
	}
	_, err := Parse(expr)
	return err
}

// NextOccurrence returns the earliest instant strictly after after that matches expr.
// The result is in after's location.
func NextOccurrence(expr string, after time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(after)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNoOccurrence, expr)
	}
	return next, nil
}

// DelayMinutesUntilNext returns the whole minutes (rounded up, at least 1)
// until expr next fires. ok is false when expr is empty or whitespace-only.
// Unparseable expressions yield FallbackDelayMinutes.
func DelayMinutesUntilNext(expr string, now time.Time) (minutes int, ok bool) {
	if IsManual(expr) {
		return 0, false
	}
	next, err := NextOccurrence(expr, now)
	if err != nil {
		return FallbackDelayMinutes, true
	}
	return ceilMinutes(next.Sub(now)), true
}

// CountMissedOccurrences counts occurrences of expr in (since, now].
// Empty or unparseable expressions count as zero. Counting stops after
// MaxMissedIterations and the partial count is returned.
func CountMissedOccurrences(expr string, since, now time.Time) int {
	if IsManual(expr) {
		return 0
	}
	sched, err := Parse(expr)
	if err != nil {
		return 0
	}
	t := since.In(now.Location())
	count := 0
	for i := 0; i < MaxMissedIterations; i++ {
		next := sched.Next(t)
		if next.IsZero() || next.After(now) {
			break
		}
		count++
		t = next
	}
	return count
}

// Preview returns up to n upcoming occurrences after from. Used for debug logging.
func Preview(expr string, from time.Time, n int) []time.Time {
	sched, err := Parse(expr)
	if err != nil || n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}

func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	m := int((d + time.Minute - 1) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}
