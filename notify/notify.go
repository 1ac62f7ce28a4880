// Package notify delivers operator alerts. Delivery is fire-and-forget from
// the trading code's point of view: use Send, which logs failures instead of
// returning them.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelInfo     Level = "info"
	LevelSuccess  Level = "success"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

type Notifier interface {
	SendAlert(ctx context.Context, level Level, message string) error
}

type Config struct {
	TelegramToken  string `yaml:"telegram_token" json:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id" json:"telegram_chat_id"`
	// PerMinute caps Telegram messages; extra alerts are dropped and logged.
	PerMinute int    `yaml:"per_minute" json:"per_minute"`
	Title     string `yaml:"title" json:"title"`
}

// New builds the notifier set described by cfg. Alerts always go to the log;
// Telegram is added when a token and chat id are configured.
func New(cfg Config, log zerolog.Logger) (Notifier, error) {
	ns := Multi{NewLog(log)}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := NewTelegram(cfg)
		if err != nil {
			return nil, err
		}
		ns = append(ns, tg)
	}
	return ns, nil
}

// Send delivers msg and logs, rather than returns, any failure. A nil
// notifier is allowed.
func Send(ctx context.Context, log zerolog.Logger, n Notifier, level Level, msg string) {
	if n == nil {
		return
	}
	if err := n.SendAlert(ctx, level, msg); err != nil {
		log.Error().Err(err).Str("severity", string(level)).Msg("alert delivery failed")
	}
}

// Multi fans an alert out to every notifier. All notifiers are tried even if
// one fails.
type Multi []Notifier

func (m Multi) SendAlert(ctx context.Context, level Level, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.SendAlert(ctx, level, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes alerts to a zerolog logger.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("component", "notify").Logger()}
}

func (l *Log) SendAlert(_ context.Context, level Level, message string) error {
	var ev *zerolog.Event
	switch level {
	case LevelCritical:
		ev = l.log.Error()
	case LevelWarning:
		ev = l.log.Warn()
	default:
		ev = l.log.Info()
	}
	ev.Str("severity", string(level)).Msg(message)
	return nil
}
