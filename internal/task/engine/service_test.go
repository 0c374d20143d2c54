package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "flowup/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestSubmitRunsTaskWithTimeout(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond})

	done := make(chan error, 1)
	err := s.Submit(context.Background(), Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("task ctx err = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task did not time out")
	}
}

func TestPanicIsRecordedAsFailure(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})

	var wg sync.WaitGroup
	wg.Add(2)
	_ = s.Submit(context.Background(), Task{Name: "panics", Run: func(ctx context.Context) error {
		defer wg.Done()
		panic("boom")
	}})
	_ = s.Submit(context.Background(), Task{Name: "ok", Run: func(ctx context.Context) error {
		defer wg.Done()
		return nil
	}})
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := s.Snapshot()
		if snap.Failed == 1 && snap.Completed == 1 {
			if len(snap.History) != 2 || snap.History[0].Error == "" {
				t.Fatalf("history = %+v", snap.History)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot = %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnqueueErrors(t *testing.T) {
	t.Parallel()

	disabled := New(Config{}, logx.Nop(), nil)
	if err := disabled.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled enqueue err = %v", err)
	}

	stopped := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := stopped.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped enqueue err = %v", err)
	}

	s := startEngine(t, Config{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "block", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}})
	<-started
	if err := s.Enqueue(Task{Name: "fill", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := s.Enqueue(Task{Name: "overflow", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("overflow err = %v, want ErrQueueFull", err)
	}
	close(block)
	if err := s.Enqueue(Task{Name: "", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("expected error for empty task name")
	}
}
