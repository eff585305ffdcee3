package voice

import (
	"context"
	"log/slog"
	"sync"
)

// Runner executes pipeline runs on a bounded worker pool so connection
// read loops never block on provider latency. Submission is
// non-blocking; a full queue rejects the run and the caller reports
// busy to the client.
type Runner struct {
	jobs    chan func()
	workers int
	logger  *slog.Logger
}

// NewRunner creates a runner with the given worker count and queue
// capacity. Capacity is normally the session limit: at most one run per
// session can be in flight, so the queue never drops under load from
// well-behaved callers.
func NewRunner(workers, capacity int, logger *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Runner{
		jobs:    make(chan func(), capacity),
		workers: workers,
		logger:  logger.With("component", "voice.runner"),
	}
}

// Run starts the workers and blocks until ctx is cancelled and all
// in-flight jobs have finished. Queued jobs not yet started are dropped
// on shutdown.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-r.jobs:
					r.execute(job)
				}
			}
		}()
	}
	r.logger.Info("runner started", "workers", r.workers, "capacity", cap(r.jobs))
	wg.Wait()
}

// Submit enqueues a job. Returns false when the queue is full.
func (r *Runner) Submit(job func()) bool {
	select {
	case r.jobs <- job:
		return true
	default:
		r.logger.Warn("runner queue full, rejecting job")
		return false
	}
}

// execute runs one job with panic isolation.
func (r *Runner) execute(job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("job panicked", "panic", rec)
		}
	}()
	job()
}
