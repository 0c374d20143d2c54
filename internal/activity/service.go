package activity

import (
	"context"
	"fmt"
	"time"

	logx "flowup/pkg/logx"
)

// Reminders is the part of the reminder scheduler the service drives.
type Reminders interface {
	Schedule(ctx context.Context, activityID int64, due time.Time, daysBefore *int, title, message string) (armed bool, err error)
	Cancel(ctx context.Context, activityID int64) error
}

// Service applies activity mutations and then schedules or cancels the
// matching reminder. The activity row is written first; a reminder failure
// is returned but does not undo the write.
type Service struct {
	repo      *Repository
	reminders Reminders
	log       logx.Logger
}

func NewService(repo *Repository, reminders Reminders, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{repo: repo, reminders: reminders, log: log.With(logx.Component("activity"))}
}

// Result is an activity after a mutation, with whether a reminder is now armed.
type Result struct {
	Activity      Activity
	ReminderArmed bool
}

func (s *Service) Create(ctx context.Context, in Input) (Result, error) {
	a, err := in.validate()
	if err != nil {
		return Result{}, err
	}
	if err := s.repo.Insert(ctx, &a); err != nil {
		return Result{}, err
	}
	s.log.Info("activity created", logx.ActivityID(a.ID), logx.String("title", a.Title), logx.Time("due", a.DueDate))
	return s.sync(ctx, a)
}

// Update replaces the editable fields of id. Edited activities become pending.
func (s *Service) Update(ctx context.Context, id int64, in Input) (Result, error) {
	a, err := in.validate()
	if err != nil {
		return Result{}, err
	}
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	a.ID = cur.ID
	a.CreatedAt = cur.CreatedAt
	a.IsCompleted = false
	if err := s.repo.Update(ctx, &a); err != nil {
		return Result{}, err
	}
	s.log.Info("activity updated", logx.ActivityID(a.ID))
	return s.sync(ctx, a)
}

// SetCompleted marks id done or pending. Completing cancels the reminder;
// reopening schedules it again when its fire time is still ahead.
func (s *Service) SetCompleted(ctx context.Context, id int64, done bool) (Result, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if a.IsCompleted == done {
		return s.sync(ctx, a)
	}
	a.IsCompleted = done
	if err := s.repo.Update(ctx, &a); err != nil {
		return Result{}, err
	}
	s.log.Info("activity completion changed", logx.ActivityID(a.ID), logx.Bool("completed", done))
	return s.sync(ctx, a)
}

func (s *Service) Toggle(ctx context.Context, id int64) (Result, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	return s.SetCompleted(ctx, id, !a.IsCompleted)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	a, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.log.Info("activity deleted", logx.ActivityID(a.ID))
	if err := s.reminders.Cancel(ctx, id); err != nil {
		return fmt.Errorf("cancel reminder: %w", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id int64) (Activity, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListPending(ctx context.Context) ([]Activity, error) {
	return s.repo.ListPending(ctx)
}

func (s *Service) ListCompleted(ctx context.Context) ([]Activity, error) {
	return s.repo.ListCompleted(ctx)
}

// sync makes the reminder match a: none for completed activities, otherwise
// whatever its due date and lead time produce.
func (s *Service) sync(ctx context.Context, a Activity) (Result, error) {
	res := Result{Activity: a}
	if a.IsCompleted {
		if err := s.reminders.Cancel(ctx, a.ID); err != nil {
			return res, fmt.Errorf("cancel reminder: %w", err)
		}
		return res, nil
	}
	armed, err := s.reminders.Schedule(ctx, a.ID, a.DueDate, a.ReminderDaysBefore, a.ReminderTitle(), a.ReminderMessage())
	if err != nil {
		return res, fmt.Errorf("schedule reminder: %w", err)
	}
	res.ReminderArmed = armed
	return res, nil
}
