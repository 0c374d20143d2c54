package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// PendingReminder is the durable record of an armed reminder.
type PendingReminder struct {
	ActivityID   int64  `json:"activity_id"`
	FireAtMillis int64  `json:"fire_at_ms"`
	Title        string `json:"title"`
	Message      string `json:"message"`
	Generation   int64  `json:"generation"`
}

// FireAt returns the fire time in UTC.
func (r PendingReminder) FireAt() time.Time { return time.UnixMilli(r.FireAtMillis).UTC() }
