package notifier

import (
	"context"
	"time"
)

const (
	SinkLog      = "log"
	SinkTelegram = "telegram"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Sink          string
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	DedupWindow   time.Duration
	DedupMaxItems int
	Telegram      TelegramConfig
}

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
}

// Notification is one user-visible message.
type Notification struct {
	Title   string
	Message string
}

// Sink delivers a notification. Implementations must honor ctx.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

type HistoryItem struct {
	At    time.Time `json:"at"`
	Title string    `json:"title"`
	Text  string    `json:"text"`
}
