package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("alert rate limited")

// sendTimeout caps one Bot API request; the client library ignores contexts.
const sendTimeout = 10 * time.Second

type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

type Telegram struct {
	bot     sender
	chatID  int64
	title   string
	limiter *rate.Limiter
}

func NewTelegram(cfg Config) (*Telegram, error) {
	b, err := tgbot.NewBotAPIWithClient(cfg.TelegramToken, tgbot.APIEndpoint, &http.Client{Timeout: sendTimeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newTelegram(b, cfg), nil
}

func newTelegram(bot sender, cfg Config) *Telegram {
	perMinute := cfg.PerMinute
	if perMinute <= 0 {
		perMinute = 20
	}
	title := cfg.Title
	if title == "" {
		title = "bullion"
	}
	return &Telegram{
		bot:     bot,
		chatID:  cfg.TelegramChatID,
		title:   title,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (t *Telegram) SendAlert(ctx context.Context, level Level, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.limiter.Allow() {
		return fmt.Errorf("telegram: %w", ErrRateLimited)
	}

	msg := tgbot.NewMessage(t.chatID, fmt.Sprintf("%s %s\n\n%s", emoji(level), t.title, message))
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(msg)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: %w", ctx.Err())
	}
}

func emoji(level Level) string {
	switch level {
	case LevelWarning:
		return "⚠️"
	case LevelCritical:
		return "🚨"
	case LevelSuccess:
		return "✅"
	default:
		return "ℹ️"
	}
}
