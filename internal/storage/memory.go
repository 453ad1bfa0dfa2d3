package storage

import (
	"context"
	"sync"
)

const memoryMoveHistory = 500

// Memory is an in-process Store. It also counts writes, which tests use to
// assert idempotent loads.
type Memory struct {
	mu     sync.Mutex
	kv     map[string][]byte
	moves  []MoveRecord
	writes int
	closed bool

	// FailPut, when set, is returned by Put without applying anything.
	FailPut error
}

func NewMemory() *Memory {
	return &Memory{kv: map[string][]byte{}}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.kv[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Put(ctx context.Context, entries map[string][]byte) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.FailPut != nil {
		return m.FailPut
	}
	for k, v := range entries {
		m.kv[k] = append([]byte(nil), v...)
	}
	m.writes++
	return nil
}

func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	removed := false
	for _, k := range keys {
		if _, ok := m.kv[k]; ok {
			delete(m.kv, k)
			removed = true
		}
	}
	if removed {
		m.writes++
	}
	return nil
}

func (m *Memory) AppendMove(ctx context.Context, rec MoveRecord) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.moves = append(m.moves, rec)
	if len(m.moves) > memoryMoveHistory {
		m.moves = append([]MoveRecord(nil), m.moves[len(m.moves)-memoryMoveHistory:]...)
	}
	return nil
}

func (m *Memory) RecentMoves(ctx context.Context, limit int) ([]MoveRecord, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	return tail(m.moves, limit), nil
}

// Writes returns the number of mutating calls that changed the store.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Keys returns the stored keys (unordered).
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.kv))
	for k := range m.kv {
		out = append(out, k)
	}
	return out
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func tail(in []MoveRecord, limit int) []MoveRecord {
	if limit <= 0 || limit > len(in) {
		limit = len(in)
	}
	return append([]MoveRecord(nil), in[len(in)-limit:]...)
}
