package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flowup/internal/clock"
	"flowup/internal/task/engine"
	logx "flowup/pkg/logx"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newInline(t *testing.T) (*Service, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(t0)
	s := New(Config{}, clk, nil, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s, clk
}

func TestArmFiresOnce(t *testing.T) {
	t.Parallel()
	s, clk := newInline(t)

	var fired []int64
	job := func(tag int64) Job {
		return func(ctx context.Context) error {
			fired = append(fired, tag)
			return nil
		}
	}
	if err := s.Arm("reminder:1", t0.Add(time.Hour), 0, job(0)); err != nil {
		t.Fatalf("arm: %v", err)
	}
	// Upsert replaces the earlier timer.
	if err := s.Arm("reminder:1", t0.Add(2*time.Hour), 1, job(1)); err != nil {
		t.Fatalf("re-arm: %v", err)
	}
	if tag, ok := s.Armed("reminder:1"); !ok || tag != 1 {
		t.Fatalf("Armed = %d,%v; want 1,true", tag, ok)
	}

	clk.Advance(90 * time.Minute)
	if len(fired) != 0 {
		t.Fatalf("replaced timer fired: %v", fired)
	}
	clk.Advance(time.Hour)
	if len(fired) != 1 || fired[0] != 1 {
		t.Fatalf("fired = %v, want [1]", fired)
	}
	if _, ok := s.Armed("reminder:1"); ok {
		t.Fatal("key still armed after firing")
	}
	clk.Advance(24 * time.Hour)
	if len(fired) != 1 {
		t.Fatalf("fired twice: %v", fired)
	}
}

func TestCancelPreventsFire(t *testing.T) {
	t.Parallel()
	s, clk := newInline(t)

	fired := false
	_ = s.Arm("reminder:2", t0.Add(time.Minute), 0, func(ctx context.Context) error {
		fired = true
		return nil
	})
	if !s.Cancel("reminder:2") {
		t.Fatal("Cancel should report an armed timer")
	}
	if s.Cancel("reminder:2") {
		t.Fatal("second Cancel should report nothing armed")
	}
	clk.Advance(time.Hour)
	if fired {
		t.Fatal("canceled timer fired")
	}
}

func TestArmPastTimeFiresImmediately(t *testing.T) {
	t.Parallel()
	s, clk := newInline(t)

	fired := false
	_ = s.Arm("k", t0.Add(-time.Hour), 0, func(ctx context.Context) error {
		fired = true
		return nil
	})
	clk.Advance(0)
	if !fired {
		t.Fatal("past-due timer did not fire on next tick")
	}
}

func TestArmBeforeStartAndAfterStop(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(t0)
	s := New(Config{}, clk, nil, logx.Nop(), nil)

	fired := 0
	if err := s.Arm("k", t0.Add(time.Minute), 7, func(ctx context.Context) error {
		fired++
		return nil
	}); err != nil {
		t.Fatalf("arm before start: %v", err)
	}
	clk.Advance(2 * time.Minute)
	if fired != 0 {
		t.Fatal("timer fired before Start")
	}
	s.Start(context.Background())
	clk.Advance(0)
	if fired != 1 {
		t.Fatalf("fired = %d after Start, want 1", fired)
	}

	s.Stop(context.Background())
	err := s.Arm("k2", t0.Add(time.Hour), 0, func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("arm after stop err = %v, want ErrStopped", err)
	}
}

func TestFireRunsOnEngineWithTimeout(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(t0)
	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	eng.Start(context.Background())
	defer eng.Stop(context.Background())

	s := New(Config{FireTimeout: 50 * time.Millisecond}, clk, eng, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	var hasDeadline bool
	_ = s.Arm("k", t0.Add(time.Second), 0, func(ctx context.Context) error {
		defer wg.Done()
		_, hasDeadline = ctx.Deadline()
		return nil
	})
	clk.Advance(time.Second)
	wg.Wait()
	if !hasDeadline {
		t.Fatal("fire context has no deadline")
	}
}

func TestAddScheduleRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s, _ := newInline(t)
	if err := s.AddSchedule("reconcile", "not a schedule!!", 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if err := s.AddSchedule("reconcile", "@every 1m", 0, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("add: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "@every 1m" {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
	if !s.Remove("reconcile") {
		t.Fatal("Remove should report removal")
	}
}
