package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "github.com/ewired/actionable-tabs/pkg/logx"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{"memory": NewMemory()}

	fs, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "state.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	out["file"] = fs

	ss, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "state.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	out["sqlite"] = ss

	t.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})
	return out
}

func TestStoreKeyValueContract(t *testing.T) {
	ctx := context.Background()
	for name, st := range openAll(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			if _, ok, err := st.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("Get(missing) = ok=%v err=%v", ok, err)
			}
			err := st.Put(ctx, map[string][]byte{
				"version": []byte(`2`),
				"rules":   []byte(`[{"id":"a"}]`),
			})
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			v, ok, err := st.Get(ctx, "rules")
			if err != nil || !ok || string(v) != `[{"id":"a"}]` {
				t.Fatalf("Get(rules) = %q ok=%v err=%v", v, ok, err)
			}
			if err := st.Delete(ctx, "version", "never-set"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := st.Get(ctx, "version"); ok {
				t.Fatal("version still present after delete")
			}
		})
	}
}

func TestStoreMoveJournal(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	for name, st := range openAll(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				rec := MoveRecord{At: at.Add(time.Duration(i) * time.Minute), Trigger: "alarm", RuleID: "r", ItemID: "tab", OldIndex: 5 + i, NewIndex: 1, Moved: true}
				if err := st.AppendMove(ctx, rec); err != nil {
					t.Fatalf("AppendMove: %v", err)
				}
			}
			got, err := st.RecentMoves(ctx, 2)
			if err != nil {
				t.Fatalf("RecentMoves: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("RecentMoves len = %d, want 2", len(got))
			}
			if got[0].OldIndex != 6 || got[1].OldIndex != 7 || !got[1].Moved {
				t.Fatalf("unexpected records: %+v", got)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.Put(ctx, map[string][]byte{"rules": []byte(`[]`)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_ = st.Close()

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if v, ok, err := st.Get(ctx, "rules"); err != nil || !ok || string(v) != `[]` {
		t.Fatalf("Get after reopen = %q ok=%v err=%v", v, ok, err)
	}
}

func TestMemoryWritesCounter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Put(ctx, map[string][]byte{"a": []byte("1")})
	_ = m.Delete(ctx, "missing")
	_ = m.Delete(ctx, "a")
	if m.Writes() != 2 {
		t.Fatalf("writes = %d, want 2", m.Writes())
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
