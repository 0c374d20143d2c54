package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the flowup configuration file. Omitted sections keep the values
// from Default. Secrets are never read from the file; see Secrets.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Activities ActivitiesConfig `json:"activities"`
	Reminders  RemindersConfig  `json:"reminders"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Notifier   NotifierConfig   `json:"notifier"`
	Debug      DebugConfig      `json:"debug"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects where pending reminders are persisted.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/reminders.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ActivitiesConfig selects the activity database. A non-empty URL selects
// PostgreSQL (the URL may also come from DATABASE_URL).
type ActivitiesConfig struct {
	URL  string `json:"url,omitempty"`
	Path string `json:"path"`
}

type RemindersConfig struct {
	// Timezone for the reconcile cron schedule and for CLI due dates
	// without a zone. Empty means the host zone.
	Timezone string `json:"timezone,omitempty"`
	// FireTimeout bounds one reminder fire (store read, delivery, delete).
	FireTimeout string `json:"fire_timeout"`
	// ReconcileEvery is a cron spec ("@every 1m", "*/30 * * * * *").
	// Empty disables the sweep.
	ReconcileEvery string `json:"reconcile_every"`
}

// Location returns the configured zone, or time.Local when unset or unknown.
func (r RemindersConfig) Location() *time.Location {
	tz := strings.TrimSpace(r.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// TaskEngineConfig controls the worker pool that runs reminder fires.
//
// Enabled is a pointer so an omitted value means enabled.
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

func (c TaskEngineConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// NotifierConfig selects delivery sinks. Tokens come from the environment.
type NotifierConfig struct {
	RatePerSec  int              `json:"rate_per_sec"`
	HistorySize int              `json:"history_size,omitempty"`
	Log         NotifierLog      `json:"log"`
	Telegram    NotifierTelegram `json:"telegram"`
	Slack       NotifierSlack    `json:"slack"`
	WhatsApp    NotifierWhatsApp `json:"whatsapp"`
}

type NotifierLog struct {
	Enabled bool `json:"enabled"`
}

type NotifierTelegram struct {
	Enabled  bool   `json:"enabled"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type NotifierSlack struct {
	Enabled   bool   `json:"enabled"`
	ChannelID string `json:"channel_id"`
}

type NotifierWhatsApp struct {
	Enabled bool   `json:"enabled"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// DebugConfig controls the optional debug HTTP server (/healthz, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - A non-loopback address needs a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true, File: LoggingFile{Path: "./flowup.log"}},
		Storage: StorageConfig{Driver: "sqlite", Path: "./data/reminders.db", BusyTimeout: "5s"},
		Activities: ActivitiesConfig{
			Path: "./data/activities.db",
		},
		Reminders: RemindersConfig{
			FireTimeout:    "30s",
			ReconcileEvery: "@every 1m",
		},
		TaskEngine: TaskEngineConfig{Workers: 2, QueueSize: 256, HistorySize: 200},
		Notifier: NotifierConfig{
			RatePerSec: 3,
			Log:        NotifierLog{Enabled: true},
			Telegram:   NotifierTelegram{Timeout: "10s"},
		},
		Debug: DebugConfig{Addr: "127.0.0.1:6060"},
	}
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	for path, raw := range map[string]string{
		"storage.busy_timeout":        c.Storage.BusyTimeout,
		"reminders.fire_timeout":      c.Reminders.FireTimeout,
		"task_engine.default_timeout": c.TaskEngine.DefaultTimeout,
		"notifier.telegram.timeout":   c.Notifier.Telegram.Timeout,
		"debug.read_timeout":          c.Debug.ReadTimeout,
		"debug.idle_timeout":          c.Debug.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if tz := strings.TrimSpace(c.Reminders.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("reminders.timezone: %w", err))
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.TaskEngine.Workers < 0 || c.TaskEngine.QueueSize < 0 {
		errs = append(errs, errors.New("task_engine: workers and queue_size must be >= 0"))
	}
	if c.Notifier.RatePerSec < 0 {
		errs = append(errs, errors.New("notifier.rate_per_sec must be >= 0"))
	}
	if c.Notifier.Telegram.Enabled && c.Notifier.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("notifier.telegram.chat_id required"))
	}
	if c.Notifier.Slack.Enabled && strings.TrimSpace(c.Notifier.Slack.ChannelID) == "" {
		errs = append(errs, errors.New("notifier.slack.channel_id required"))
	}
	if c.Notifier.WhatsApp.Enabled && (strings.TrimSpace(c.Notifier.WhatsApp.From) == "" || strings.TrimSpace(c.Notifier.WhatsApp.To) == "") {
		errs = append(errs, errors.New("notifier.whatsapp: from and to required"))
	}
	return errors.Join(errs...)
}
