package app

import (
	"fmt"
	"strings"
	"time"

	"flowup/internal/activity"
	"flowup/internal/config"
	"flowup/internal/notifier"
	"flowup/internal/observability/debug"
	"flowup/internal/storage"
	"flowup/internal/task/engine"
	"flowup/internal/task/scheduler"
	logx "flowup/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig maps the reminder store section. Reminders cannot work
// without durable rows, so "none" is rejected.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, fmt.Errorf("storage.driver is required for reminders")
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapActivityDBConfig(cfg *config.Config) activity.DBConfig {
	return activity.DBConfig{URL: cfg.Activities.URL, Path: cfg.Activities.Path}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	timeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	workers := te.Workers
	if workers <= 0 {
		workers = 2
	}
	queue := te.QueueSize
	if queue <= 0 {
		queue = 256
	}
	history := te.HistorySize
	if history <= 0 {
		history = 200
	}
	return engine.Config{
		Enabled:        te.IsEnabled(),
		Workers:        workers,
		QueueSize:      queue,
		DefaultTimeout: timeout,
		HistorySize:    history,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	fire, err := config.ParseDurationOrDefault("reminders.fire_timeout", cfg.Reminders.FireTimeout, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Timezone: cfg.Reminders.Timezone, FireTimeout: fire}, nil
}

func mapNotifierConfig(cfg *config.Config, sec config.Secrets) (notifier.Config, error) {
	n := cfg.Notifier
	tgTimeout, err := config.ParseDurationOrDefault("notifier.telegram.timeout", n.Telegram.Timeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:  n.RatePerSec,
		HistorySize: n.HistorySize,
		Log:         notifier.LogConfig{Enabled: n.Log.Enabled},
		Telegram: notifier.TelegramConfig{
			Enabled:  n.Telegram.Enabled,
			Token:    sec.TelegramToken,
			ChatID:   n.Telegram.ChatID,
			ThreadID: n.Telegram.ThreadID,
			Timeout:  tgTimeout,
		},
		Slack: notifier.SlackConfig{
			Enabled:   n.Slack.Enabled,
			Token:     sec.SlackToken,
			ChannelID: n.Slack.ChannelID,
		},
		WhatsApp: notifier.WhatsAppConfig{
			Enabled:    n.WhatsApp.Enabled,
			AccountSID: sec.TwilioAccountSID,
			AuthToken:  sec.TwilioAuthToken,
			From:       n.WhatsApp.From,
			To:         n.WhatsApp.To,
		},
	}, nil
}

func mapDebugConfig(cfg *config.Config) (debug.Config, error) {
	d := cfg.Debug
	read, err := config.ParseDurationField("debug.read_timeout", d.ReadTimeout)
	if err != nil {
		return debug.Config{}, err
	}
	idle, err := config.ParseDurationField("debug.idle_timeout", d.IdleTimeout)
	if err != nil {
		return debug.Config{}, err
	}
	return debug.Config{
		Enabled:       d.Enabled,
		Addr:          d.Addr,
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   read,
		IdleTimeout:   idle,
	}, nil
}
