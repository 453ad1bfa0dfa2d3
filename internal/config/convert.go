package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ewired/actionable-tabs/internal/notifier"
	"github.com/ewired/actionable-tabs/internal/observability/ops"
	"github.com/ewired/actionable-tabs/internal/storage"
	logx "github.com/ewired/actionable-tabs/pkg/logx"
)

const DefaultOpsAddr = "127.0.0.1:7070"

// Validate checks fields that would otherwise fail late at Apply time.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "mem", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if _, err := cfg.ToNotifier(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Notifier.Enabled && strings.EqualFold(strings.TrimSpace(cfg.Notifier.Sink), notifier.SinkTelegram) {
		if strings.TrimSpace(cfg.Notifier.Telegram.Token) == "" || cfg.Notifier.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("notifier.telegram: token and chat_id are required"))
		}
	}
	if _, err := ParseDurationField("ops.read_timeout", cfg.Ops.ReadTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("ops.idle_timeout", cfg.Ops.IdleTimeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) ToLogx() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}
}

func (c *Config) ToStorage() (storage.Config, error) {
	bt, err := ParseDurationOrDefault("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Storage.Driver, Path: c.Storage.Path, BusyTimeout: bt}, nil
}

func (c *Config) ToNotifier() (notifier.Config, error) {
	n := c.Notifier
	base, err := ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       n.Enabled,
		Sink:          n.Sink,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		DedupWindow:   dedup,
		DedupMaxItems: n.DedupMaxItems,
		Telegram: notifier.TelegramConfig{
			Token:    n.Telegram.Token,
			ChatID:   n.Telegram.ChatID,
			ThreadID: n.Telegram.ThreadID,
		},
	}, nil
}

// OpsAddr returns the listen address with the default applied.
func (c *Config) OpsAddr() string {
	if a := strings.TrimSpace(c.Ops.Addr); a != "" {
		return a
	}
	return DefaultOpsAddr
}

func (c *Config) ToOps() (ops.Config, error) {
	rt, err := ParseDurationOrDefault("ops.read_timeout", c.Ops.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	it, err := ParseDurationOrDefault("ops.idle_timeout", c.Ops.IdleTimeout, time.Minute)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:     c.Ops.Enabled,
		Addr:        c.OpsAddr(),
		Pprof:       c.Ops.Pprof,
		ReadTimeout: rt,
		IdleTimeout: it,
	}, nil
}
