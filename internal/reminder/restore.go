package reminder

import (
	"context"
	"fmt"

	logx "flowup/pkg/logx"
)

// Restore arms a timer for every stored reminder. Rows whose fire time passed
// while the process was down fire right away.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	n, err := s.sync(ctx, true)
	if err != nil {
		return n, err
	}
	s.log.Info("reminders restored", logx.Int("armed", n))
	return n, nil
}

// Reconcile arms rows that have no live timer at their current generation,
// such as rows written by another process sharing the store.
func (s *Scheduler) Reconcile(ctx context.Context) (int, error) {
	n, err := s.sync(ctx, false)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.log.Info("reminders reconciled", logx.Int("rearmed", n))
	}
	return n, nil
}

func (s *Scheduler) sync(ctx context.Context, force bool) (int, error) {
	rows, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list reminders: %w", err)
	}
	armed := 0
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return armed, err
		}
		ok, err := s.rearm(ctx, r.ActivityID, force)
		if err != nil {
			s.log.Warn("reminder re-arm failed", logx.ActivityID(r.ActivityID), logx.Err(err))
			continue
		}
		if ok {
			armed++
		}
	}
	return armed, nil
}

func (s *Scheduler) rearm(ctx context.Context, activityID int64, force bool) (bool, error) {
	unlock := s.locks.lock(activityID)
	defer unlock()

	// Re-read under the lock; the listed row may already be gone or replaced.
	row, ok, err := s.store.Get(ctx, activityID)
	if err != nil || !ok {
		return false, err
	}
	if !force {
		if tag, armed := s.timers.Armed(timerKey(activityID)); armed && tag == row.Generation {
			return false, nil
		}
	}
	if err := s.arm(row); err != nil {
		return false, err
	}
	s.rearmed.Add(1)
	return true, nil
}
