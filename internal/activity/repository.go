package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"flowup/internal/eventbus"
	logx "flowup/pkg/logx"
)

// DBConfig selects the activity database. A non-empty URL selects
// PostgreSQL; otherwise SQLite at Path is used.
type DBConfig struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// OpenDB opens the activity database and migrates its schema.
func OpenDB(cfg DBConfig, log logx.Logger) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: newGormLogger(log)}

	var (
		db  *gorm.DB
		err error
	)
	if url := strings.TrimSpace(cfg.URL); url != "" {
		db, err = gorm.Open(postgres.Open(url), gcfg)
	} else {
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			path = "./data/activities.db"
		}
		db, err = gorm.Open(sqlite.Open(path), gcfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open activity db: %w", err)
	}
	if err := db.AutoMigrate(&Activity{}); err != nil {
		return nil, fmt.Errorf("migrate activity db: %w", err)
	}
	if !log.IsZero() {
		log.Info("activity database ready", logx.String("dialect", db.Dialector.Name()))
	}
	return db, nil
}

// Repository is the activity store. Every mutation publishes a change event.
type Repository struct {
	db  *gorm.DB
	bus eventbus.Bus
}

func NewRepository(db *gorm.DB, bus eventbus.Bus) *Repository {
	return &Repository{db: db, bus: bus}
}

func (r *Repository) Insert(ctx context.Context, a *Activity) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	r.publish(eventbus.ActivityCreated, *a)
	return nil
}

// Update overwrites every column of an existing row.
func (r *Repository) Update(ctx context.Context, a *Activity) error {
	res := r.db.WithContext(ctx).Model(&Activity{ID: a.ID}).Select("*").Omit("created_at").Updates(a)
	if res.Error != nil {
		return fmt.Errorf("update activity %d: %w", a.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	r.publish(eventbus.ActivityUpdated, *a)
	return nil
}

// Delete removes the row and returns what was deleted.
func (r *Repository) Delete(ctx context.Context, id int64) (Activity, error) {
	var a Activity
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&a, id).Error; err != nil {
			return err
		}
		return tx.Delete(&Activity{}, id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Activity{}, ErrNotFound
	}
	if err != nil {
		return Activity{}, fmt.Errorf("delete activity %d: %w", id, err)
	}
	r.publish(eventbus.ActivityDeleted, a)
	return a, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (Activity, error) {
	var a Activity
	err := r.db.WithContext(ctx).First(&a, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Activity{}, ErrNotFound
	}
	if err != nil {
		return Activity{}, fmt.Errorf("get activity %d: %w", id, err)
	}
	return a, nil
}

// ListPending returns incomplete activities, earliest due first.
func (r *Repository) ListPending(ctx context.Context) ([]Activity, error) {
	return r.list(ctx, false)
}

// ListCompleted returns completed activities, earliest due first.
func (r *Repository) ListCompleted(ctx context.Context) ([]Activity, error) {
	return r.list(ctx, true)
}

func (r *Repository) list(ctx context.Context, completed bool) ([]Activity, error) {
	var out []Activity
	err := r.db.WithContext(ctx).
		Where("is_completed = ?", completed).
		Order("due_date ASC").Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return out, nil
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Repository) publish(typ string, a Activity) {
	eventbus.Publish(r.bus, typ, eventbus.ActivityChange{ActivityID: a.ID, Title: a.Title, Completed: a.IsCompleted})
}

type gormWriter struct{ log logx.Logger }

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func newGormLogger(log logx.Logger) logger.Interface {
	if log.IsZero() {
		return logger.Discard
	}
	return logger.New(gormWriter{log: log.With(logx.Component("gorm"))}, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
