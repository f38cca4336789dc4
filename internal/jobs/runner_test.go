package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunnerExecutesSubmittedJobs(t *testing.T) {
	runner := NewRunner(1, 4, nil, nil)

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		if !runner.Submit(Job{Name: "count", Run: func() { ran.Add(1) }}) {
			t.Fatalf("submit %d rejected", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := runner.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := ran.Load(); got != 3 {
		t.Fatalf("expected 3 jobs run, got %d", got)
	}
}

func TestRunnerRecoversFromPanics(t *testing.T) {
	runner := NewRunner(1, 4, nil, nil)

	var after atomic.Bool
	runner.Submit(Job{Name: "boom", Run: func() { panic("boom") }})
	runner.Submit(Job{Name: "after", Run: func() { after.Store(true) }})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := runner.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !after.Load() {
		t.Fatalf("expected worker to survive panic and run the next job")
	}
}

func TestRunnerDropsWhenSaturated(t *testing.T) {
	runner := NewRunner(1, 1, nil, nil)

	block := make(chan struct{})
	runner.Submit(Job{Name: "block", Run: func() { <-block }})

	// Fill the queue, then overflow it.
	accepted := 0
	for i := 0; i < 8; i++ {
		if runner.Submit(Job{Name: "fill", Run: func() {}}) {
			accepted++
		}
	}
	if runner.Dropped() == 0 {
		t.Fatalf("expected saturation drops, accepted=%d", accepted)
	}

	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := runner.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRunnerRejectsAfterClose(t *testing.T) {
	runner := NewRunner(1, 1, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := runner.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if runner.Submit(Job{Name: "late", Run: func() {}}) {
		t.Fatalf("expected submit after close to be rejected")
	}
}
