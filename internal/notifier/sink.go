package notifier

import (
	"context"
	"errors"
	"strings"

	logx "github.com/ewired/actionable-tabs/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

// LogSink writes notifications to the structured log.
type LogSink struct {
	Log logx.Logger
}

func (s LogSink) Send(_ context.Context, n Notification) error {
	s.Log.Info(n.Title, logx.String("message", n.Message))
	return nil
}

// TelegramSink posts notifications to a Telegram chat.
type TelegramSink struct {
	bot      *tele.Bot
	chatID   int64
	threadID int
}

func NewTelegramSink(cfg TelegramConfig) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	// Offline skips the getMe round-trip; this sink only sends.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{bot: b, chatID: cfg.ChatID, threadID: cfg.ThreadID}, nil
}

func (s *TelegramSink) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(&tele.Chat{ID: s.chatID}, formatText(n), &tele.SendOptions{
		ThreadID:              s.threadID,
		DisableWebPagePreview: true,
	})
	return err
}

func formatText(n Notification) string {
	title := strings.TrimSpace(n.Title)
	msg := strings.TrimSpace(n.Message)
	switch {
	case title == "":
		return msg
	case msg == "":
		return title
	default:
		return title + "\n" + msg
	}
}

// NewSink builds the sink named by cfg.Sink.
func NewSink(cfg Config, log logx.Logger) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Sink)) {
	case "", SinkLog:
		return LogSink{Log: log}, nil
	case SinkTelegram:
		return NewTelegramSink(cfg.Telegram)
	default:
		return nil, errors.New("unknown notifier sink: " + cfg.Sink)
	}
}
