package rulestore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewired/actionable-tabs/internal/eventbus"
	"github.com/ewired/actionable-tabs/internal/rules"
	"github.com/ewired/actionable-tabs/internal/storage"
	logx "github.com/ewired/actionable-tabs/pkg/logx"
)

func newStore(t *testing.T) (*Store, *storage.Memory, eventbus.Bus) {
	t.Helper()
	kv := storage.NewMemory()
	bus := eventbus.New()
	return New(kv, logx.Nop(), bus), kv, bus
}

func TestLoadInitializesDefaults(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newStore(t)

	st, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, st.Rules, 1)
	r := st.Rules[0]
	assert.Equal(t, rules.CurrentVersion, st.Version)
	assert.Equal(t, "*/30 * * * *", r.CronSchedule)
	assert.Equal(t, rules.QueueLeftmost, r.QueueMode)
	assert.Equal(t, 1, r.MoveCount)
	assert.Equal(t, rules.DirectionLeft, r.MoveDirection)
	assert.True(t, r.ShowNotifications)
	assert.Nil(t, r.LastMoveTime)
	assert.Equal(t, 1, kv.Writes())
}

func TestLoadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newStore(t)

	first, err := s.Load(ctx)
	require.NoError(t, err)
	writes := kv.Writes()

	second, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, writes, kv.Writes(), "second load must not write")
}

func TestLoadMigratesLegacyFlatSettings(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newStore(t)
	require.NoError(t, kv.Put(ctx, map[string][]byte{
		LegacyKeyCronSchedule:      []byte(`"0 9 * * 1-5"`),
		LegacyKeyQueueMode:         []byte(`"newest"`),
		LegacyKeyMoveCount:         []byte(`4`),
		LegacyKeyMoveDirection:     []byte(`"right"`),
		LegacyKeyShowNotifications: []byte(`false`),
	}))

	st, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, st.Rules, 1)
	r := st.Rules[0]
	assert.Equal(t, rules.LegacyRuleID, r.ID)
	assert.Equal(t, "0 9 * * 1-5", r.CronSchedule)
	assert.Equal(t, rules.QueueNewest, r.QueueMode)
	assert.Equal(t, 4, r.MoveCount)
	assert.Equal(t, rules.DirectionRight, r.MoveDirection)
	assert.False(t, r.ShowNotifications)

	assert.ElementsMatch(t, []string{KeyVersion, KeyRules}, kv.Keys(), "legacy keys must be gone")

	writes := kv.Writes()
	again, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, again)
	assert.Equal(t, writes, kv.Writes())
}

func TestLoadMigratesPartialLegacyWithDefaults(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newStore(t)
	require.NoError(t, kv.Put(ctx, map[string][]byte{
		LegacyKeyQueueMode: []byte(`"fifo"`),
	}))

	st, err := s.Load(ctx)
	require.NoError(t, err)
	r := st.Rules[0]
	assert.Equal(t, rules.QueueOldest, r.QueueMode)
	assert.Equal(t, rules.DefaultCronSchedule, r.CronSchedule)
	assert.Equal(t, 1, r.MoveCount)
}

func TestLoadMigratesStaleEnumsInEnvelope(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newStore(t)
	require.NoError(t, kv.Put(ctx, map[string][]byte{
		KeyVersion: []byte(`2`),
		KeyRules:   []byte(`[{"id":"a","cronSchedule":"","queueMode":"lifo","moveCount":2,"moveDirection":"left","showNotifications":true,"lastMoveTime":null}]`),
	}))
	before := kv.Writes()

	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, rules.QueueNewest, st.Rules[0].QueueMode)
	assert.Equal(t, before+1, kv.Writes())

	_, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, kv.Writes())
}

func TestLoadRepairsEmptyEnvelope(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newStore(t)
	require.NoError(t, kv.Put(ctx, map[string][]byte{KeyVersion: []byte(`2`), KeyRules: []byte(`[]`)}))

	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, st.Rules, 1)
}

func TestSaveRejectsEmptyRuleSet(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newStore(t)
	st, err := s.Load(ctx)
	require.NoError(t, err)
	writes := kv.Writes()

	err = s.Save(ctx, nil)
	assert.ErrorIs(t, err, rules.ErrEmptyRuleSet)
	assert.Equal(t, writes, kv.Writes())

	again, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, again, "previous state retained")
}

func TestSavePublishesScheduleChanges(t *testing.T) {
	ctx := context.Background()
	s, _, bus := newStore(t)
	ch, unsub := bus.Subscribe(4, eventbus.SettingsChanged)
	defer unsub()

	st, err := s.Load(ctx)
	require.NoError(t, err)

	// Timestamp-only change.
	rs := rules.Clone(st.Rules)
	ts := int64(1000)
	rs[0].LastMoveTime = &ts
	require.NoError(t, s.Save(ctx, rs))
	ev := <-ch
	assert.False(t, ev.Data.(Change).SchedulesChanged)

	// Schedule change.
	rs[0].CronSchedule = "0 * * * *"
	require.NoError(t, s.Save(ctx, rs))
	ev = <-ch
	assert.True(t, ev.Data.(Change).SchedulesChanged)
}

func TestSaveSurfacesPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newStore(t)
	st, err := s.Load(ctx)
	require.NoError(t, err)

	kv.FailPut = errors.New("disk full")
	err = s.Save(ctx, st.Rules)
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestSaveStoresCurrentEnumSpellings(t *testing.T) {
	ctx := context.Background()
	s, kv, _ := newStore(t)
	_, err := s.Load(ctx)
	require.NoError(t, err)

	legacy := rules.Rule{ID: "r1", CronSchedule: "*/30 * * * *", QueueMode: "lifo", MoveCount: 1, MoveDirection: "end"}
	require.NoError(t, s.Save(ctx, []rules.Rule{legacy}))
	assert.Equal(t, rules.QueueMode("lifo"), legacy.QueueMode, "caller's slice is not mutated")

	raw, ok, err := kv.Get(ctx, KeyRules)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(raw), `"queueMode":"newest"`)
	assert.Contains(t, string(raw), `"moveDirection":"right"`)

	writes := kv.Writes()
	st, err := New(kv, logx.Nop(), nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, rules.QueueNewest, st.Rules[0].QueueMode)
	assert.Equal(t, rules.DirectionRight, st.Rules[0].MoveDirection)
	assert.Equal(t, writes, kv.Writes(), "stored rules need no repair")
}
