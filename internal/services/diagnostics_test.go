package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultDiagnosticsConfig(t *testing.T) {
	config := DefaultDiagnosticsConfig()

	if config.QueueSize != 64 {
		t.Errorf("expected QueueSize 64, got %d", config.QueueSize)
	}
	if config.MaxRetries != 3 {
		t.Errorf("expected MaxRetries 3, got %d", config.MaxRetries)
	}
	if config.TaskTimeout != 10*time.Second {
		t.Errorf("expected TaskTimeout 10s, got %v", config.TaskTimeout)
	}
	if config.RetryBackoff != 500*time.Millisecond {
		t.Errorf("expected RetryBackoff 500ms, got %v", config.RetryBackoff)
	}
}

func TestDiagnosticsQueue_Lifecycle(t *testing.T) {
	q := NewDiagnosticsQueue(DefaultDiagnosticsConfig())
	ctx := context.Background()

	if q.IsRunning() {
		t.Error("queue should not be running initially")
	}
	if err := q.Stop(ctx); err != nil {
		t.Errorf("Stop on idle queue should return nil, got %v", err)
	}
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := q.Start(ctx); err == nil {
		t.Error("expected error when starting already running queue")
	}
	if !q.IsRunning() {
		t.Error("queue should be running after Start")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := q.Stop(stopCtx); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if q.IsRunning() {
		t.Error("queue should not be running after Stop")
	}
}

func TestDiagnosticsQueue_RetriesThenSucceeds(t *testing.T) {
	q := NewDiagnosticsQueue(DiagnosticsConfig{QueueSize: 4, MaxRetries: 3, RetryBackoff: time.Millisecond})
	ctx := context.Background()

	var calls atomic.Int32
	done := make(chan struct{})
	q.Enqueue(Task{Name: "flaky", Run: func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}})

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never succeeded")
	}
	waitFor(t, func() bool { return q.Stats().Processed == 1 })
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestDiagnosticsQueue_FailureCounted(t *testing.T) {
	q := NewDiagnosticsQueue(DiagnosticsConfig{QueueSize: 4, MaxRetries: 2, RetryBackoff: time.Millisecond})
	ctx := context.Background()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop(ctx)

	q.Enqueue(Task{Name: "broken", Run: func(context.Context) error { return errors.New("down") }})
	q.Enqueue(Task{Name: "panics", Run: func(context.Context) error { panic("boom") }})

	waitFor(t, func() bool { return q.Stats().Failed == 2 })
	if q.Stats().Processed != 0 {
		t.Errorf("expected nothing processed, got %d", q.Stats().Processed)
	}
}

func TestDiagnosticsQueue_DropsWhenFull(t *testing.T) {
	q := NewDiagnosticsQueue(DiagnosticsConfig{QueueSize: 1})
	noop := Task{Name: "noop", Run: func(context.Context) error { return nil }}

	if !q.Enqueue(noop) {
		t.Fatal("first enqueue should fit")
	}
	if q.Enqueue(noop) {
		t.Fatal("second enqueue should be dropped")
	}
	stats := q.Stats()
	if stats.Dropped != 1 || stats.Pending != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestDiagnosticsQueue_StopDrainsPending(t *testing.T) {
	q := NewDiagnosticsQueue(DiagnosticsConfig{QueueSize: 8})
	ctx := context.Background()

	var ran atomic.Int32
	block := make(chan struct{})
	q.Enqueue(Task{Name: "slow", Run: func(context.Context) error {
		<-block
		ran.Add(1)
		return nil
	}})
	for i := 0; i < 3; i++ {
		q.Enqueue(Task{Name: "quick", Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}})
	}
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopped := make(chan error, 1)
	go func() {
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		stopped <- q.Stop(stopCtx)
	}()
	close(block)

	if err := <-stopped; err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := ran.Load(); got != 4 {
		t.Errorf("expected all 4 tasks to run, got %d", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
