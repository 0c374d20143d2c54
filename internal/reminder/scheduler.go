package reminder

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"flowup/internal/clock"
	"flowup/internal/eventbus"
	"flowup/internal/notifier"
	"flowup/internal/storage"
	logx "flowup/pkg/logx"
)

// Timers is the one-shot timer facility. Arm replaces any timer under the
// same key; tag is reported back by Armed.
type Timers interface {
	Arm(key string, at time.Time, tag int64, fire func(ctx context.Context) error) error
	Cancel(key string) bool
	Armed(key string) (tag int64, ok bool)
}

type Stats struct {
	Scheduled      uint64 `json:"scheduled"`
	Skipped        uint64 `json:"skipped"`
	Canceled       uint64 `json:"canceled"`
	Fired          uint64 `json:"fired"`
	DeliveryFailed uint64 `json:"delivery_failed"`
	Stale          uint64 `json:"stale"`
	Rearmed        uint64 `json:"rearmed"`
	LockedKeys     int    `json:"locked_keys"`
}

type Scheduler struct {
	store    storage.Store
	timers   Timers
	notifier notifier.Notifier
	clock    clock.Clock
	log      logx.Logger
	bus      eventbus.Bus

	locks keyLocks

	scheduled      atomic.Uint64
	skipped        atomic.Uint64
	canceled       atomic.Uint64
	fired          atomic.Uint64
	deliveryFailed atomic.Uint64
	stale          atomic.Uint64
	rearmed        atomic.Uint64
}

func New(store storage.Store, timers Timers, n notifier.Notifier, clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		store:    store,
		timers:   timers,
		notifier: n,
		clock:    clk,
		log:      log.With(logx.Component("reminder")),
		bus:      bus,
	}
}

func timerKey(activityID int64) string {
	return "reminder:" + strconv.FormatInt(activityID, 10)
}

// Schedule replaces the reminder for activityID. It returns armed=false with
// a nil error when daysBefore is nil or the fire time is not in the future;
// any existing reminder for the activity is removed in that case.
//
// A store failure leaves the previous reminder untouched. A timer failure
// happens after the row was replaced, so the activity is left with no
// reminder at all: the previous one is dropped, not restored.
func (s *Scheduler) Schedule(ctx context.Context, activityID int64, due time.Time, daysBefore *int, title, message string) (armed bool, err error) {
	fireAt, ok, err := ComputeFireAt(due, daysBefore)
	if err != nil {
		return false, err
	}

	unlock := s.locks.lock(activityID)
	defer unlock()

	now := s.clock.Now()
	if !ok || !fireAt.After(now) {
		if err := s.cancelLocked(ctx, activityID); err != nil {
			return false, err
		}
		s.skipped.Add(1)
		reason := "no_lead_time"
		if ok {
			reason = "past_due"
		}
		s.log.Debug("reminder not armed", logx.ActivityID(activityID), logx.String("reason", reason), logx.Time("fire_at", fireAt))
		eventbus.Publish(s.bus, eventbus.ReminderSkipped, eventbus.ReminderChange{ActivityID: activityID, FireAtMillis: millis(fireAt), Reason: reason})
		return false, nil
	}

	req := Request{ActivityID: activityID, FireAt: fireAt, Title: title, Message: message}
	row, err := s.store.Put(ctx, storage.PendingReminder{
		ActivityID:   req.ActivityID,
		FireAtMillis: req.FireAt.UnixMilli(),
		Title:        req.Title,
		Message:      req.Message,
	})
	if err != nil {
		return false, fmt.Errorf("store reminder %d: %w", activityID, err)
	}

	if err := s.arm(row); err != nil {
		// The row must not claim a timer that does not exist.
		s.timers.Cancel(timerKey(activityID))
		if derr := s.store.Delete(ctx, activityID); derr != nil {
			s.log.Error("reminder rollback failed", logx.ActivityID(activityID), logx.Err(derr))
		}
		return false, fmt.Errorf("arm reminder %d: %w", activityID, err)
	}

	s.scheduled.Add(1)
	s.log.Info("reminder scheduled", logx.ActivityID(activityID), logx.Generation(row.Generation), logx.Time("fire_at", row.FireAt()))
	eventbus.Publish(s.bus, eventbus.ReminderScheduled, eventbus.ReminderChange{ActivityID: activityID, Generation: row.Generation, FireAtMillis: row.FireAtMillis})
	return true, nil
}

// Cancel removes the reminder for activityID. Canceling a missing reminder is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, activityID int64) error {
	unlock := s.locks.lock(activityID)
	defer unlock()
	return s.cancelLocked(ctx, activityID)
}

func (s *Scheduler) cancelLocked(ctx context.Context, activityID int64) error {
	row, ok, err := s.store.Get(ctx, activityID)
	if err != nil {
		return fmt.Errorf("load reminder %d: %w", activityID, err)
	}
	if ok {
		if err := s.store.Delete(ctx, activityID); err != nil {
			return fmt.Errorf("delete reminder %d: %w", activityID, err)
		}
	}
	hadTimer := s.timers.Cancel(timerKey(activityID))
	if !ok && !hadTimer {
		return nil
	}
	s.canceled.Add(1)
	s.log.Debug("reminder canceled", logx.ActivityID(activityID), logx.Generation(row.Generation))
	eventbus.Publish(s.bus, eventbus.ReminderCanceled, eventbus.ReminderChange{ActivityID: activityID, Generation: row.Generation})
	return nil
}

// OnFire handles a timer callback carrying generation. Stale callbacks are
// dropped silently. On a match the notifier is called once and the row is
// deleted whether or not delivery succeeded.
func (s *Scheduler) OnFire(ctx context.Context, activityID, generation int64) error {
	unlock := s.locks.lock(activityID)
	defer unlock()

	row, ok, err := s.store.Get(ctx, activityID)
	if err != nil {
		return fmt.Errorf("load reminder %d: %w", activityID, err)
	}
	if !ok || row.Generation != generation {
		s.stale.Add(1)
		s.log.Debug("stale reminder callback", logx.ActivityID(activityID), logx.Generation(generation), logx.Bool("row", ok), logx.Int64("stored_generation", row.Generation))
		eventbus.Publish(s.bus, eventbus.ReminderStale, eventbus.ReminderChange{ActivityID: activityID, Generation: generation})
		return nil
	}

	delivered := true
	if err := s.notifier.Deliver(ctx, activityID, row.Title, row.Message); err != nil {
		delivered = false
		s.deliveryFailed.Add(1)
		s.log.Warn("reminder delivery failed", logx.ActivityID(activityID), logx.Generation(generation), logx.Err(err))
	}

	// A canceled fire context must not keep the row alive.
	dctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := s.store.Delete(dctx, activityID); err != nil {
		return fmt.Errorf("delete fired reminder %d: %w", activityID, err)
	}

	s.fired.Add(1)
	s.log.Info("reminder fired", logx.ActivityID(activityID), logx.Generation(generation), logx.Bool("delivered", delivered))
	eventbus.Publish(s.bus, eventbus.ReminderFired, eventbus.ReminderChange{ActivityID: activityID, Generation: generation, FireAtMillis: row.FireAtMillis, Delivered: delivered})
	return nil
}

func (s *Scheduler) arm(row storage.PendingReminder) error {
	id, gen := row.ActivityID, row.Generation
	return s.timers.Arm(timerKey(id), row.FireAt(), gen, func(ctx context.Context) error {
		return s.OnFire(ctx, id, gen)
	})
}

// Pending lists stored reminders ordered by fire time.
func (s *Scheduler) Pending(ctx context.Context) ([]storage.PendingReminder, error) {
	return s.store.List(ctx)
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Scheduled:      s.scheduled.Load(),
		Skipped:        s.skipped.Load(),
		Canceled:       s.canceled.Load(),
		Fired:          s.fired.Load(),
		DeliveryFailed: s.deliveryFailed.Load(),
		Stale:          s.stale.Load(),
		Rearmed:        s.rearmed.Load(),
		LockedKeys:     s.locks.size(),
	}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
