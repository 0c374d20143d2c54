package storage

import (
	"context"
	"errors"
	"strings"

	logx "flowup/pkg/logx"
)

// Store is the reminder persistence API used by the scheduler.
//
// Put and Delete are durable before they return. Each call is atomic with
// respect to other calls on the same store.
type Store interface {
	// Put replaces the row for r.ActivityID and returns the stored row with the
	// generation assigned to it (previous generation + 1, or 0 for the first).
	Put(ctx context.Context, r PendingReminder) (PendingReminder, error)
	Get(ctx context.Context, activityID int64) (PendingReminder, bool, error)
	// Delete is a no-op when no row exists.
	Delete(ctx context.Context, activityID int64) error
	// List returns all rows ordered by fire time.
	List(ctx context.Context) ([]PendingReminder, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.Component("storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
