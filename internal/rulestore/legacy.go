package rulestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ewired/actionable-tabs/internal/rules"
	logx "github.com/ewired/actionable-tabs/pkg/logx"
)

// Flat single-rule keys written before the versioned envelope existed.
const (
	LegacyKeyCronSchedule      = "cronSchedule"
	LegacyKeyQueueMode         = "queueMode"
	LegacyKeyMoveCount         = "moveCount"
	LegacyKeyMoveDirection     = "moveDirection"
	LegacyKeyShowNotifications = "showNotifications"
	LegacyKeyLastMoveTime      = "lastMoveTime"
)

var legacyKeys = []string{
	LegacyKeyCronSchedule,
	LegacyKeyQueueMode,
	LegacyKeyMoveCount,
	LegacyKeyMoveDirection,
	LegacyKeyShowNotifications,
	LegacyKeyLastMoveTime,
}

type legacySettings struct {
	CronSchedule      *string
	QueueMode         *string
	MoveCount         *int
	MoveDirection     *string
	ShowNotifications *bool
	LastMoveTime      *int64
}

func (s *Store) readLegacy(ctx context.Context) (legacySettings, bool, error) {
	var out legacySettings
	found := false
	targets := map[string]any{
		LegacyKeyCronSchedule:      &out.CronSchedule,
		LegacyKeyQueueMode:         &out.QueueMode,
		LegacyKeyMoveCount:         &out.MoveCount,
		LegacyKeyMoveDirection:     &out.MoveDirection,
		LegacyKeyShowNotifications: &out.ShowNotifications,
		LegacyKeyLastMoveTime:      &out.LastMoveTime,
	}
	for _, k := range legacyKeys {
		raw, ok, err := s.kv.Get(ctx, k)
		if err != nil {
			return legacySettings{}, false, fmt.Errorf("%w: read %s: %v", ErrPersistence, k, err)
		}
		if !ok {
			continue
		}
		found = true
		if err := json.Unmarshal(raw, targets[k]); err != nil {
			s.log.Warn("legacy setting unreadable; using default", logx.String("key", k), logx.Err(err))
		}
	}
	return out, found, nil
}

func (s *Store) migrateLegacy(ctx context.Context, in legacySettings) (rules.Settings, error) {
	r := rules.Default()
	r.ID = rules.LegacyRuleID
	if in.CronSchedule != nil {
		r.CronSchedule = *in.CronSchedule
	}
	if in.QueueMode != nil {
		r.QueueMode = rules.QueueMode(*in.QueueMode)
	}
	if in.MoveCount != nil {
		r.MoveCount = *in.MoveCount
	}
	if in.MoveDirection != nil {
		r.MoveDirection = rules.Direction(*in.MoveDirection)
	}
	if in.ShowNotifications != nil {
		r.ShowNotifications = *in.ShowNotifications
	}
	if in.LastMoveTime != nil {
		v := *in.LastMoveTime
		r.LastMoveTime = &v
	}
	rules.Normalize(&r)

	st := rules.Settings{Version: rules.CurrentVersion, Rules: []rules.Rule{r}}
	if err := s.write(ctx, st); err != nil {
		return rules.Settings{}, err
	}
	if err := s.kv.Delete(ctx, legacyKeys...); err != nil {
		// The envelope is already written; next Load sees the version marker and skips migration.
		s.log.Warn("legacy keys cleanup failed", logx.Err(err))
	}
	s.log.Info("migrated legacy settings",
		logx.String("schedule", r.CronSchedule),
		logx.String("queue_mode", string(r.QueueMode)),
		logx.Int("move_count", r.MoveCount),
	)
	s.remember(st.Rules)
	return st, nil
}
