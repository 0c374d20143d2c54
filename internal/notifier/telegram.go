package notifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// telegramSender is the slice of *tele.Bot the sink needs.
type telegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Telegram struct {
	bot      telegramSender
	chatID   int64
	threadID int
}

// NewTelegram creates a send-only bot. No updates are polled.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: cfg.ChatID, threadID: cfg.ThreadID}, nil
}

func (*Telegram) Name() string { return "telegram" }

func (t *Telegram) Deliver(ctx context.Context, activityID int64, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, formatPlain(title, message), &tele.SendOptions{
		DisableWebPagePreview: true,
		ThreadID:              t.threadID,
	})
	return err
}

func formatPlain(title, message string) string {
	title = strings.TrimSpace(title)
	message = strings.TrimSpace(message)
	if message == "" {
		return title
	}
	return title + "\n\n" + message
}
