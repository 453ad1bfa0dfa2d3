package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "github.com/ewired/actionable-tabs/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.settings.json (whole document, replaced atomically)
//   - <prefix>.moves.jsonl   (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	settingsPath string
	movesFile    *os.File
	movesPath    string
	kv           map[string]json.RawMessage
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	settingsPath := prefix + ".settings.json"
	movesPath := prefix + ".moves.jsonl"

	kv := map[string]json.RawMessage{}
	if err := loadDocument(settingsPath, kv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	mf, err := os.OpenFile(movesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		settingsPath: settingsPath,
		movesFile:    mf,
		movesPath:    movesPath,
		kv:           kv,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.movesFile == nil {
		return nil
	}
	err := s.movesFile.Close()
	s.movesFile = nil
	return err
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.movesFile == nil {
		return nil, false, ErrClosed
	}
	v, ok := s.kv[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *fileStore) Put(ctx context.Context, entries map[string][]byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.movesFile == nil {
		return ErrClosed
	}
	next := make(map[string]json.RawMessage, len(s.kv)+len(entries))
	for k, v := range s.kv {
		next[k] = v
	}
	for k, v := range entries {
		if !json.Valid(v) {
			return errors.New("storage: value for " + k + " is not valid JSON")
		}
		next[k] = append(json.RawMessage(nil), v...)
	}
	if err := writeDocument(s.settingsPath, next); err != nil {
		return err
	}
	s.kv = next
	return nil
}

func (s *fileStore) Delete(ctx context.Context, keys ...string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.movesFile == nil {
		return ErrClosed
	}
	next := make(map[string]json.RawMessage, len(s.kv))
	for k, v := range s.kv {
		next[k] = v
	}
	removed := false
	for _, k := range keys {
		if _, ok := next[k]; ok {
			delete(next, k)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	if err := writeDocument(s.settingsPath, next); err != nil {
		return err
	}
	s.kv = next
	return nil
}

func (s *fileStore) AppendMove(ctx context.Context, rec MoveRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.movesFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.movesFile).Encode(rec)
}

func (s *fileStore) RecentMoves(ctx context.Context, limit int) ([]MoveRecord, error) {
	_ = ctx
	s.mu.Lock()
	path := s.movesPath
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []MoveRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r MoveRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tail(out, limit), nil
}

func loadDocument(path string, out map[string]json.RawMessage) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	return json.Unmarshal(b, &out)
}

// writeDocument replaces path via temp file + rename.
func writeDocument(path string, doc map[string]json.RawMessage) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
