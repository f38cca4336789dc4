// Package jobs provides a fire-and-forget background runner for work that
// must never block the simulation tick, such as snapshot writes.
package jobs

import (
	"context"
	"sync"
	"sync/atomic"

	"lobbysim/server/internal/telemetry"
)

// Job is a named unit of background work.
type Job struct {
	Name string
	Run  func()
}

// Runner executes submitted jobs on a fixed pool of workers behind a bounded
// queue. Submission never blocks; jobs are dropped with a log line when the
// queue is saturated.
type Runner struct {
	queue   chan Job
	logger  telemetry.Logger
	metrics telemetry.Metrics
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Uint64
}

// NewRunner starts workers goroutines consuming a queue of the given capacity.
func NewRunner(workers, capacity int, logger telemetry.Logger, metrics telemetry.Metrics) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 16
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	r := &Runner{
		queue:   make(chan Job, capacity),
		logger:  logger,
		metrics: metrics,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	return r
}

// Submit enqueues a job without blocking. It reports whether the job was
// accepted; a false return means the queue was full or the runner closed.
func (r *Runner) Submit(job Job) bool {
	if r == nil || job.Run == nil {
		return false
	}
	if r.closed.Load() {
		return false
	}
	select {
	case r.queue <- job:
		r.metrics.Add("jobs.submitted", 1)
		return true
	default:
		r.dropped.Add(1)
		r.metrics.Add("jobs.dropped", 1)
		if r.logger != nil {
			r.logger.Printf("jobs: queue full, dropping %q", job.Name)
		}
		return false
	}
}

// Dropped reports how many jobs were rejected due to saturation.
func (r *Runner) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Close stops accepting work and waits for queued jobs to finish, bounded by
// the context deadline.
func (r *Runner) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.queue)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) work() {
	defer r.wg.Done()
	for job := range r.queue {
		r.execute(job)
	}
}

func (r *Runner) execute(job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.logger != nil {
				r.logger.Printf("jobs: %q panicked: %v", job.Name, rec)
			}
			r.metrics.Add("jobs.panicked", 1)
		}
	}()
	job.Run()
	r.metrics.Add("jobs.completed", 1)
}
