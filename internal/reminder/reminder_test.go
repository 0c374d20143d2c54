package reminder

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"flowup/internal/clock"
	"flowup/internal/eventbus"
	"flowup/internal/storage"
	"flowup/internal/task/scheduler"
	logx "flowup/pkg/logx"
)

var T = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

var drivers = []string{"sqlite", "file"}

type delivery struct {
	ActivityID int64
	Title      string
	Message    string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []delivery
	err   error
}

func (f *fakeNotifier) Deliver(ctx context.Context, activityID int64, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, delivery{activityID, title, message})
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	clk    *clock.Fake
	store  storage.Store
	timers *scheduler.Service
	notes  *fakeNotifier
	bus    eventbus.Bus
	s      *Scheduler
	path   string
}

func newHarness(t *testing.T, driver string) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reminders.db")
	return openHarness(t, driver, path, T)
}

func openHarness(t *testing.T, driver, path string, now time.Time) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	clk := clock.NewFake(now)
	timers := scheduler.New(scheduler.Config{}, clk, nil, logx.Nop(), nil)
	timers.Start(context.Background())
	h := &harness{clk: clk, store: st, timers: timers, notes: &fakeNotifier{}, bus: eventbus.New(), path: path}
	h.s = New(st, timers, h.notes, clk, logx.Nop(), h.bus)
	t.Cleanup(h.close)
	return h
}

func (h *harness) close() {
	h.timers.Stop(context.Background())
	_ = h.store.Close()
}

func (h *harness) row(t *testing.T, id int64) (storage.PendingReminder, bool) {
	t.Helper()
	r, ok, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %d: %v", id, err)
	}
	return r, ok
}

func (h *harness) rows(t *testing.T) []storage.PendingReminder {
	t.Helper()
	rs, err := h.store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return rs
}

func forEachDriver(t *testing.T, fn func(t *testing.T, h *harness)) {
	t.Helper()
	for _, d := range drivers {
		d := d
		t.Run(d, func(t *testing.T) {
			t.Parallel()
			fn(t, newHarness(t, d))
		})
	}
}

func TestComputeFireAt(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		days *int
		want time.Time
		ok   bool
		err  error
	}{
		{name: "absent", days: nil},
		{name: "zero", days: Days(0), want: T, ok: true},
		{name: "two days", days: Days(2), want: T.Add(-48 * time.Hour), ok: true},
		{name: "negative", days: Days(-1), err: ErrInvalidLeadTime},
		{name: "beyond duration range", days: Days(200000), want: T.Add(-100000 * Day).Add(-100000 * Day), ok: true},
		{name: "before year one", days: Days(math.MaxInt), want: time.Time{}, ok: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ComputeFireAt(T, tt.days)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if ok != tt.ok || !got.Equal(tt.want) {
				t.Fatalf("ComputeFireAt = %v,%v; want %v,%v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestPastDueIsSkippedWithoutRow(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		for i, tc := range []struct {
			due  time.Time
			days int
		}{
			{T.Add(Day), 1},        // fireAt == now
			{T.Add(Day), 2},        // fireAt before now
			{T.Add(-time.Hour), 0}, // due already passed
			{T.Add(Day), 200000},   // lead time beyond time.Duration
			{T.Add(Day), math.MaxInt},
		} {
			armed, err := h.s.Schedule(ctx, int64(i+1), tc.due, Days(tc.days), "Reminder: x", "m")
			if err != nil || armed {
				t.Fatalf("case %d: Schedule = %v, %v; want false, nil", i, armed, err)
			}
		}
		if rs := h.rows(t); len(rs) != 0 {
			t.Fatalf("rows = %+v, want none", rs)
		}
		if h.clk.Pending() != 0 {
			t.Fatalf("pending timers = %d, want 0", h.clk.Pending())
		}
	})
}

func TestScheduleArmsAndBumpsGeneration(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		due := T.Add(3 * Day)

		armed, err := h.s.Schedule(ctx, 1, due, Days(1), "Reminder: report", "send it")
		if err != nil || !armed {
			t.Fatalf("Schedule = %v, %v", armed, err)
		}
		r, ok := h.row(t, 1)
		if !ok {
			t.Fatal("no row after schedule")
		}
		if want := due.Add(-Day).UnixMilli(); r.FireAtMillis != want {
			t.Fatalf("fire_at_ms = %d, want %d", r.FireAtMillis, want)
		}
		if r.Generation != 0 || r.Title != "Reminder: report" || r.Message != "send it" {
			t.Fatalf("row = %+v", r)
		}

		for want := int64(1); want <= 3; want++ {
			if _, err := h.s.Schedule(ctx, 1, due, Days(2), "Reminder: report", "send it"); err != nil {
				t.Fatalf("reschedule: %v", err)
			}
			r, _ := h.row(t, 1)
			if r.Generation != want {
				t.Fatalf("generation = %d, want %d", r.Generation, want)
			}
		}
		if rs := h.rows(t); len(rs) != 1 {
			t.Fatalf("rows = %d, want exactly 1", len(rs))
		}
		if tag, ok := h.timers.Armed(timerKey(1)); !ok || tag != 3 {
			t.Fatalf("armed tag = %d,%v; want 3,true", tag, ok)
		}
	})
}

func TestOnFireDiscardsStaleCallbacks(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		if _, err := h.s.Schedule(ctx, 1, T.Add(2*Day), Days(1), "t", "m"); err != nil {
			t.Fatal(err)
		}
		if _, err := h.s.Schedule(ctx, 1, T.Add(2*Day), Days(1), "t", "m"); err != nil {
			t.Fatal(err)
		}

		if err := h.s.OnFire(ctx, 1, 0); err != nil {
			t.Fatalf("stale generation: %v", err)
		}
		if err := h.s.OnFire(ctx, 99, 0); err != nil {
			t.Fatalf("missing row: %v", err)
		}
		if n := h.notes.count(); n != 0 {
			t.Fatalf("notifier called %d times for stale callbacks", n)
		}
		if _, ok := h.row(t, 1); !ok {
			t.Fatal("stale callback removed the live row")
		}
		if st := h.s.Stats(); st.Stale != 2 {
			t.Fatalf("stale = %d, want 2", st.Stale)
		}
	})
}

func TestOnFireDeliversOnceAndDeletesEvenOnFailure(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		h.notes.err = errors.New("notification permission denied")
		if _, err := h.s.Schedule(ctx, 5, T.Add(2*Day), Days(1), "Reminder: dentist", "10:00"); err != nil {
			t.Fatal(err)
		}

		if err := h.s.OnFire(ctx, 5, 0); err != nil {
			t.Fatalf("OnFire: %v", err)
		}
		if n := h.notes.count(); n != 1 {
			t.Fatalf("notifier calls = %d, want 1", n)
		}
		if _, ok := h.row(t, 5); ok {
			t.Fatal("row survived a failed delivery")
		}
		// Duplicate delivery of the same callback is now stale.
		if err := h.s.OnFire(ctx, 5, 0); err != nil {
			t.Fatalf("duplicate OnFire: %v", err)
		}
		if n := h.notes.count(); n != 1 {
			t.Fatalf("notifier calls = %d after duplicate, want 1", n)
		}
		st := h.s.Stats()
		if st.Fired != 1 || st.DeliveryFailed != 1 {
			t.Fatalf("stats = %+v", st)
		}
	})
}

func TestCancelMissingIsNoop(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		if _, err := h.s.Schedule(ctx, 2, T.Add(2*Day), Days(1), "t", "m"); err != nil {
			t.Fatal(err)
		}
		before := h.rows(t)
		if err := h.s.Cancel(ctx, 42); err != nil {
			t.Fatalf("Cancel missing: %v", err)
		}
		if err := h.s.Cancel(ctx, 42); err != nil {
			t.Fatalf("Cancel missing twice: %v", err)
		}
		after := h.rows(t)
		if len(after) != len(before) || after[0] != before[0] {
			t.Fatalf("store changed: before %+v after %+v", before, after)
		}
		if st := h.s.Stats(); st.Canceled != 0 {
			t.Fatalf("canceled = %d, want 0", st.Canceled)
		}
	})
}

func TestRescheduleToPastDueRemovesRow(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		due := T.Add(2 * Day)

		armed, err := h.s.Schedule(ctx, 1, due, Days(1), "t", "m")
		if err != nil || !armed {
			t.Fatalf("first Schedule = %v, %v", armed, err)
		}
		r, _ := h.row(t, 1)
		if !r.FireAt().Equal(T.Add(Day)) {
			t.Fatalf("fireAt = %v, want %v", r.FireAt(), T.Add(Day))
		}

		armed, err = h.s.Schedule(ctx, 1, due, Days(3), "t", "m")
		if err != nil || armed {
			t.Fatalf("second Schedule = %v, %v; want false, nil", armed, err)
		}
		if _, ok := h.row(t, 1); ok {
			t.Fatal("prior row was not removed")
		}
		if _, ok := h.timers.Armed(timerKey(1)); ok {
			t.Fatal("prior timer still armed")
		}
		h.clk.Advance(3 * Day)
		if n := h.notes.count(); n != 0 {
			t.Fatalf("notifier calls = %d, want 0", n)
		}
	})
}

func TestLateCallbackAfterCancelIsDiscarded(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		armed, err := h.s.Schedule(ctx, 7, T.Add(2*Day), Days(1), "t", "m")
		if err != nil || !armed {
			t.Fatalf("Schedule = %v, %v", armed, err)
		}
		r, _ := h.row(t, 7)
		if r.Generation != 0 {
			t.Fatalf("generation = %d, want 0", r.Generation)
		}
		if err := h.s.Cancel(ctx, 7); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if err := h.s.OnFire(ctx, 7, 0); err != nil {
			t.Fatalf("late OnFire: %v", err)
		}
		h.clk.Advance(5 * Day)
		if n := h.notes.count(); n != 0 {
			t.Fatalf("notifier calls = %d, want 0", n)
		}

		// A fresh schedule after cancel never reuses generation 0.
		if _, err := h.s.Schedule(ctx, 7, T.Add(10*Day), Days(1), "t", "m"); err != nil {
			t.Fatal(err)
		}
		if err := h.s.OnFire(ctx, 7, 0); err != nil {
			t.Fatal(err)
		}
		if n := h.notes.count(); n != 0 {
			t.Fatalf("old generation delivered after reschedule")
		}
	})
}

func TestTimerFiresThroughFacility(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		events, unsub := h.bus.Subscribe(16)
		defer unsub()

		if _, err := h.s.Schedule(ctx, 3, T.Add(2*Day), Days(1), "Reminder: gym", "You have a pending activity"); err != nil {
			t.Fatal(err)
		}
		// Replaced before firing: only the newer timer may deliver.
		if _, err := h.s.Schedule(ctx, 3, T.Add(3*Day), Days(1), "Reminder: gym", "moved"); err != nil {
			t.Fatal(err)
		}
		h.clk.Advance(Day + time.Minute)
		if n := h.notes.count(); n != 0 {
			t.Fatalf("replaced timer delivered %d times", n)
		}
		h.clk.Advance(Day)
		if n := h.notes.count(); n != 1 {
			t.Fatalf("notifier calls = %d, want 1", n)
		}
		if got := h.notes.calls[0]; got.Message != "moved" || got.ActivityID != 3 {
			t.Fatalf("delivered %+v", got)
		}
		if _, ok := h.row(t, 3); ok {
			t.Fatal("row survived fire")
		}

		var types []string
		for len(events) > 0 {
			types = append(types, (<-events).Type)
		}
		want := []string{eventbus.ReminderScheduled, eventbus.ReminderScheduled, eventbus.ReminderFired}
		if len(types) != len(want) {
			t.Fatalf("events = %v, want %v", types, want)
		}
		for i := range want {
			if types[i] != want[i] {
				t.Fatalf("events = %v, want %v", types, want)
			}
		}
	})
}

func TestRestoreAfterRestart(t *testing.T) {
	t.Parallel()
	for _, d := range drivers {
		d := d
		t.Run(d, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "reminders.db")

			h1 := openHarness(t, d, path, T)
			if _, err := h1.s.Schedule(ctx, 1, T.Add(2*Day), Days(1), "overdue", "m"); err != nil {
				t.Fatal(err)
			}
			if _, err := h1.s.Schedule(ctx, 2, T.Add(5*Day), Days(1), "later", "m"); err != nil {
				t.Fatal(err)
			}
			h1.close()

			// Process comes back after the first reminder's instant passed.
			h2 := openHarness(t, d, path, T.Add(36*time.Hour))
			n, err := h2.s.Restore(ctx)
			if err != nil || n != 2 {
				t.Fatalf("Restore = %d, %v; want 2, nil", n, err)
			}
			h2.clk.Advance(0)
			if c := h2.notes.count(); c != 1 || h2.notes.calls[0].Title != "overdue" {
				t.Fatalf("after restore deliveries = %+v", h2.notes.calls)
			}
			h2.clk.Advance(4 * Day)
			if c := h2.notes.count(); c != 2 {
				t.Fatalf("deliveries = %d, want 2", c)
			}
			if rs := h2.rows(t); len(rs) != 0 {
				t.Fatalf("rows left = %+v", rs)
			}
		})
	}
}

func TestReconcileArmsForeignRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, "sqlite")

	// Another process writes through its own scheduler and timers.
	otherTimers := scheduler.New(scheduler.Config{}, h.clk, nil, logx.Nop(), nil)
	otherTimers.Start(ctx)
	defer otherTimers.Stop(ctx)
	other := New(h.store, otherTimers, &fakeNotifier{}, h.clk, logx.Nop(), nil)
	if _, err := other.Schedule(ctx, 11, T.Add(2*Day), Days(1), "from cli", "m"); err != nil {
		t.Fatal(err)
	}
	otherTimers.Stop(ctx)

	n, err := h.s.Reconcile(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Reconcile = %d, %v; want 1, nil", n, err)
	}
	n, err = h.s.Reconcile(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second Reconcile = %d, %v; want 0, nil", n, err)
	}
	h.clk.Advance(Day)
	if c := h.notes.count(); c != 1 {
		t.Fatalf("deliveries = %d, want 1", c)
	}
}

type failingTimers struct {
	*scheduler.Service
	err error
}

func (f failingTimers) Arm(key string, at time.Time, tag int64, fire func(ctx context.Context) error) error {
	return f.err
}

func TestTimerFailureRollsBackRow(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		s := New(h.store, failingTimers{Service: h.timers, err: scheduler.ErrStopped}, h.notes, h.clk, logx.Nop(), nil)

		armed, err := s.Schedule(ctx, 4, T.Add(2*Day), Days(1), "t", "m")
		if armed || !errors.Is(err, scheduler.ErrStopped) {
			t.Fatalf("Schedule = %v, %v; want false, ErrStopped", armed, err)
		}
		if _, ok := h.row(t, 4); ok {
			t.Fatal("row left behind after arm failure")
		}
		// Generation is not reused by the next successful schedule.
		if _, err := h.s.Schedule(ctx, 4, T.Add(2*Day), Days(1), "t", "m"); err != nil {
			t.Fatal(err)
		}
		if r, _ := h.row(t, 4); r.Generation != 1 {
			t.Fatalf("generation = %d, want 1", r.Generation)
		}

		// A failed reschedule drops the reminder that was armed before it.
		if _, err := s.Schedule(ctx, 4, T.Add(3*Day), Days(1), "t2", "m"); !errors.Is(err, scheduler.ErrStopped) {
			t.Fatalf("reschedule err = %v, want ErrStopped", err)
		}
		if _, ok := h.row(t, 4); ok {
			t.Fatal("previous reminder survived a failed reschedule")
		}
		if _, ok := h.timers.Armed(timerKey(4)); ok {
			t.Fatal("previous timer still armed after a failed reschedule")
		}
	})
}

type failingStore struct {
	storage.Store
}

func (failingStore) Put(ctx context.Context, r storage.PendingReminder) (storage.PendingReminder, error) {
	return storage.PendingReminder{}, errors.New("disk full")
}

func (failingStore) Delete(ctx context.Context, id int64) error { return errors.New("disk full") }

func TestStoreFailureLeavesPreviousReminder(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		if _, err := h.s.Schedule(ctx, 6, T.Add(2*Day), Days(1), "t", "m"); err != nil {
			t.Fatal(err)
		}
		broken := New(failingStore{h.store}, h.timers, h.notes, h.clk, logx.Nop(), nil)

		if armed, err := broken.Schedule(ctx, 6, T.Add(4*Day), Days(1), "t", "m"); armed || err == nil {
			t.Fatalf("Schedule = %v, %v; want false, error", armed, err)
		}
		if err := broken.Cancel(ctx, 6); err == nil {
			t.Fatal("Cancel should surface the delete failure")
		}
		if tag, ok := h.timers.Armed(timerKey(6)); !ok || tag != 0 {
			t.Fatalf("original timer = %d,%v; want 0,true", tag, ok)
		}
		h.clk.Advance(Day)
		if c := h.notes.count(); c != 1 {
			t.Fatalf("deliveries = %d, want 1", c)
		}
	})
}

func TestConcurrentScheduleAndFire(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		const ids, rounds = 4, 10

		var wg sync.WaitGroup
		for id := int64(1); id <= ids; id++ {
			for r := 0; r < rounds; r++ {
				wg.Add(2)
				go func(id int64) {
					defer wg.Done()
					if _, err := h.s.Schedule(ctx, id, T.Add(2*Day), Days(1), "t", "m"); err != nil {
						t.Errorf("schedule %d: %v", id, err)
					}
				}(id)
				go func(id int64, gen int64) {
					defer wg.Done()
					if err := h.s.OnFire(ctx, id, gen); err != nil {
						t.Errorf("fire %d: %v", id, err)
					}
				}(id, int64(r))
			}
		}
		wg.Wait()

		// Every fire either hit the current generation (and deleted the row)
		// or was stale; no activity ever holds more than one row.
		rs := h.rows(t)
		if len(rs) > ids {
			t.Fatalf("rows = %d, want at most %d", len(rs), ids)
		}
		st := h.s.Stats()
		if int(st.Fired) != h.notes.count() {
			t.Fatalf("fired %d but delivered %d", st.Fired, h.notes.count())
		}
		if st.Fired+st.Stale != ids*rounds {
			t.Fatalf("fired+stale = %d, want %d", st.Fired+st.Stale, ids*rounds)
		}
		if st.LockedKeys != 0 {
			t.Fatalf("locked keys = %d after quiescence", st.LockedKeys)
		}
	})
}

// blockingNotifier parks Deliver until release is closed.
type blockingNotifier struct {
	entered chan int64
	release chan struct{}
}

func (b *blockingNotifier) Deliver(ctx context.Context, activityID int64, title, message string) error {
	b.entered <- activityID
	<-b.release
	return nil
}

func TestOtherActivitiesProceedWhileOneFires(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		bn := &blockingNotifier{entered: make(chan int64, 1), release: make(chan struct{})}
		s := New(h.store, h.timers, bn, h.clk, logx.Nop(), h.bus)
		due := T.Add(2 * Day)

		if armed, err := s.Schedule(ctx, 1, due, Days(1), "a", "m"); err != nil || !armed {
			t.Fatalf("Schedule(1) = %v, %v", armed, err)
		}
		fired := make(chan error, 1)
		go func() { fired <- s.OnFire(ctx, 1, 0) }()
		select {
		case <-bn.entered:
		case <-time.After(5 * time.Second):
			t.Fatal("OnFire(1) never reached the notifier")
		}

		other := make(chan error, 1)
		go func() {
			armed, err := s.Schedule(ctx, 2, due, Days(1), "b", "m")
			if err == nil && !armed {
				err = errors.New("not armed")
			}
			if err == nil {
				err = s.Cancel(ctx, 3)
			}
			other <- err
		}()
		select {
		case err := <-other:
			if err != nil {
				t.Fatalf("activity 2: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("activity 2 blocked behind delivery of activity 1")
		}

		same := make(chan error, 1)
		go func() {
			_, err := s.Schedule(ctx, 1, due, Days(1), "a2", "m")
			same <- err
		}()
		select {
		case <-same:
			t.Fatal("Schedule(1) ran while OnFire(1) held the activity")
		case <-time.After(50 * time.Millisecond):
		}

		close(bn.release)
		if err := <-fired; err != nil {
			t.Fatalf("OnFire(1): %v", err)
		}
		if err := <-same; err != nil {
			t.Fatalf("Schedule(1) after fire: %v", err)
		}
		r, ok := h.row(t, 1)
		if !ok || r.Generation != 1 || r.Title != "a2" {
			t.Fatalf("row 1 = %+v ok=%v, want generation 1 title a2", r, ok)
		}
	})
}
