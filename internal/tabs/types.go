// Package tabs defines the host collection boundary: enumerating items,
// moving them, and clearing actionable marks.
package tabs

import (
	"context"
	"errors"
)

var ErrItemNotFound = errors.New("item not found")

// Item is a snapshot of one entry in the host collection.
type Item struct {
	ID     string `json:"id" yaml:"id"`
	Title  string `json:"title,omitempty" yaml:"title,omitempty"`
	Index  int    `json:"index" yaml:"-"`
	Pinned bool   `json:"pinned,omitempty" yaml:"pinned,omitempty"`
	// MarkedAt is unix millis when the item was flagged actionable; nil if not actionable.
	MarkedAt *int64 `json:"marked_at,omitempty" yaml:"marked_at,omitempty"`
}

// Actionable reports whether the item is flagged.
func (it Item) Actionable() bool { return it.MarkedAt != nil }

// Host is the collection the engine reorders. Calls are scoped to one window.
type Host interface {
	// EnumerateItems returns the current ordered snapshot.
	EnumerateItems(ctx context.Context) ([]Item, error)
	// MoveItem moves id to dest and returns the index it landed on.
	MoveItem(ctx context.Context, id string, dest int) (newIndex int, err error)
	// ClearMark removes the actionable flag from id.
	ClearMark(ctx context.Context, id string) error
}

// Counts summarizes a snapshot.
type Counts struct {
	Total      int
	Pinned     int
	Actionable int
}

func Count(items []Item) Counts {
	c := Counts{Total: len(items)}
	for _, it := range items {
		if it.Pinned {
			c.Pinned++
		}
		if it.Actionable() {
			c.Actionable++
		}
	}
	return c
}

// FilterActionable returns flagged items in snapshot order.
func FilterActionable(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Actionable() {
			out = append(out, it)
		}
	}
	return out
}
