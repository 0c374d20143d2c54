package notifier

import (
	"context"
	"errors"
	"time"
)

var ErrNoSinks = errors.New("notifier: no sinks configured")

// Notifier delivers a reminder notification.
type Notifier interface {
	Deliver(ctx context.Context, activityID int64, title, message string) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, activityID int64, title, message string) error

func (f Func) Deliver(ctx context.Context, activityID int64, title, message string) error {
	return f(ctx, activityID, title, message)
}

// Sink is a named delivery channel.
type Sink interface {
	Notifier
	Name() string
}

type Config struct {
	// RatePerSec caps deliveries across all sinks. 0 disables limiting.
	RatePerSec  int
	HistorySize int

	Log      LogConfig
	Telegram TelegramConfig
	Slack    SlackConfig
	WhatsApp WhatsAppConfig
}

type LogConfig struct {
	Enabled bool
}

type TelegramConfig struct {
	Enabled  bool
	Token    string
	ChatID   int64
	ThreadID int
	Timeout  time.Duration
}

type SlackConfig struct {
	Enabled   bool
	Token     string
	ChannelID string
}

type WhatsAppConfig struct {
	Enabled    bool
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

type HistoryItem struct {
	At         time.Time `json:"at"`
	ActivityID int64     `json:"activity_id"`
	Title      string    `json:"title"`
	Sinks      []string  `json:"sinks"`
	Error      string    `json:"error,omitempty"`
}

// NotificationEvent is emitted on the event bus after each delivery attempt.
type NotificationEvent struct {
	ActivityID int64     `json:"activity_id"`
	Sink       string    `json:"sink"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}
