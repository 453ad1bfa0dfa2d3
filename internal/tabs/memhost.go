package tabs

import (
	"context"
	"fmt"
	"os"
	"sync"

	yaml "go.yaml.in/yaml/v3"
)

// MemHost is an in-memory Host. Pinned items always stay in front of
// unpinned ones; moves clamp into the item's own section.
type MemHost struct {
	mu    sync.Mutex
	items []Item
}

func NewMemHost(items ...Item) *MemHost {
	h := &MemHost{}
	h.Replace(items)
	return h
}

// LoadSnapshot reads a YAML (or JSON) list of items.
func LoadSnapshot(path string) (*MemHost, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Items []Item `yaml:"items"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("tabs snapshot %s: %w", path, err)
	}
	return NewMemHost(doc.Items...), nil
}

// Replace swaps the whole collection; pinned items are moved to the front.
func (h *MemHost) Replace(items []Item) {
	pinned := make([]Item, 0, len(items))
	rest := make([]Item, 0, len(items))
	for _, it := range items {
		if it.MarkedAt != nil {
			v := *it.MarkedAt
			it.MarkedAt = &v
		}
		if it.Pinned {
			pinned = append(pinned, it)
		} else {
			rest = append(rest, it)
		}
	}
	h.mu.Lock()
	h.items = append(pinned, rest...)
	h.reindexLocked()
	h.mu.Unlock()
}

func (h *MemHost) EnumerateItems(ctx context.Context) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Item, len(h.items))
	for i, it := range h.items {
		if it.MarkedAt != nil {
			v := *it.MarkedAt
			it.MarkedAt = &v
		}
		out[i] = it
	}
	return out, nil
}

func (h *MemHost) MoveItem(ctx context.Context, id string, dest int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	from := h.indexLocked(id)
	if from < 0 {
		return 0, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	it := h.items[from]
	rest := append(append([]Item(nil), h.items[:from]...), h.items[from+1:]...)

	pinned := 0
	for _, x := range rest {
		if x.Pinned {
			pinned++
		}
	}
	lo, hi := pinned, len(rest)
	if it.Pinned {
		lo, hi = 0, pinned
	}
	if dest < 0 || dest > hi {
		dest = hi
	}
	if dest < lo {
		dest = lo
	}

	h.items = append(rest[:dest], append([]Item{it}, rest[dest:]...)...)
	h.reindexLocked()
	return dest, nil
}

func (h *MemHost) ClearMark(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	h.items[i].MarkedAt = nil
	return nil
}

// Mark flags id as actionable at markedAt (unix millis).
func (h *MemHost) Mark(id string, markedAt int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	v := markedAt
	h.items[i].MarkedAt = &v
	return nil
}

// Remove drops id from the collection.
func (h *MemHost) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.indexLocked(id)
	if i < 0 {
		return false
	}
	h.items = append(h.items[:i], h.items[i+1:]...)
	h.reindexLocked()
	return true
}

// Order returns item ids in collection order.
func (h *MemHost) Order() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.items))
	for i, it := range h.items {
		out[i] = it.ID
	}
	return out
}

func (h *MemHost) indexLocked(id string) int {
	for i, it := range h.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (h *MemHost) reindexLocked() {
	for i := range h.items {
		h.items[i].Index = i
	}
}
