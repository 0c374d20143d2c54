package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "flowup/pkg/logx"

	"github.com/GuiaBolso/darwin"
	_ "modernc.org/sqlite"
)

var sqliteMigrations = []darwin.Migration{
	{
		Version:     1,
		Description: "create pending_reminders",
		Script: `CREATE TABLE IF NOT EXISTS pending_reminders (
			activity_id INTEGER PRIMARY KEY,
			fire_at_ms  INTEGER NOT NULL,
			title       TEXT    NOT NULL,
			message     TEXT    NOT NULL,
			generation  INTEGER NOT NULL
		);`,
	},
	{
		Version:     2,
		Description: "create reminder_generations",
		Script: `CREATE TABLE IF NOT EXISTS reminder_generations (
			activity_id INTEGER PRIMARY KEY,
			generation  INTEGER NOT NULL
		);`,
	},
	{
		Version:     3,
		Description: "index pending_reminders by fire time",
		Script:      `CREATE INDEX IF NOT EXISTS idx_pending_reminders_fire_at ON pending_reminders(fire_at_ms);`,
	},
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Basic pragmas.
	busy := cfg.BusyTimeout.Milliseconds()
	if busy <= 0 {
		busy = 5000
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate() error {
	d := darwin.New(darwin.NewGenericDriver(s.db, darwin.SqliteDialect{}), sqliteMigrations, nil)
	return d.Migrate()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Put(ctx context.Context, r PendingReminder) (PendingReminder, error) {
	if s == nil || s.db == nil {
		return PendingReminder{}, ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PendingReminder{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var last int64
	err = tx.QueryRowContext(ctx, `SELECT generation FROM reminder_generations WHERE activity_id = ?`, r.ActivityID).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		r.Generation = 0
	case err != nil:
		return PendingReminder{}, err
	default:
		r.Generation = last + 1
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reminder_generations(activity_id, generation) VALUES(?,?)
		 ON CONFLICT(activity_id) DO UPDATE SET generation=excluded.generation`,
		r.ActivityID, r.Generation,
	); err != nil {
		return PendingReminder{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pending_reminders(activity_id, fire_at_ms, title, message, generation) VALUES(?,?,?,?,?)
		 ON CONFLICT(activity_id) DO UPDATE SET
		   fire_at_ms=excluded.fire_at_ms, title=excluded.title, message=excluded.message, generation=excluded.generation`,
		r.ActivityID, r.FireAtMillis, r.Title, r.Message, r.Generation,
	); err != nil {
		return PendingReminder{}, err
	}
	if err := tx.Commit(); err != nil {
		return PendingReminder{}, err
	}
	return r, nil
}

func (s *sqliteStore) Get(ctx context.Context, activityID int64) (PendingReminder, bool, error) {
	if s == nil || s.db == nil {
		return PendingReminder{}, false, ErrDisabled
	}
	r := PendingReminder{ActivityID: activityID}
	err := s.db.QueryRowContext(ctx,
		`SELECT fire_at_ms, title, message, generation FROM pending_reminders WHERE activity_id = ?`, activityID,
	).Scan(&r.FireAtMillis, &r.Title, &r.Message, &r.Generation)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingReminder{}, false, nil
	}
	if err != nil {
		return PendingReminder{}, false, err
	}
	return r, true, nil
}

func (s *sqliteStore) Delete(ctx context.Context, activityID int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_reminders WHERE activity_id = ?`, activityID)
	return err
}

func (s *sqliteStore) List(ctx context.Context) ([]PendingReminder, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT activity_id, fire_at_ms, title, message, generation FROM pending_reminders ORDER BY fire_at_ms, activity_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingReminder
	for rows.Next() {
		var r PendingReminder
		if err := rows.Scan(&r.ActivityID, &r.FireAtMillis, &r.Title, &r.Message, &r.Generation); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
