package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local map (default; nothing survives restart)
//   - "file": JSON document + jsonl move journal
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the rule store and the engine.
//
// Put writes all entries in one step: either every key is updated or none is.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, entries map[string][]byte) error
	Delete(ctx context.Context, keys ...string) error

	AppendMove(ctx context.Context, rec MoveRecord) error
	RecentMoves(ctx context.Context, limit int) ([]MoveRecord, error)

	Close() error
}

// MoveRecord journals one requested move.
// Keep it compact and schema-stable.
type MoveRecord struct {
	At       time.Time `json:"at"`
	Trigger  string    `json:"trigger"` // "alarm" | "catchup" | "manual"
	RuleID   string    `json:"rule_id,omitempty"`
	ItemID   string    `json:"item_id"`
	OldIndex int       `json:"old_index"`
	NewIndex int       `json:"new_index"`
	Moved    bool      `json:"moved"`
	Error    string    `json:"error,omitempty"`
}
