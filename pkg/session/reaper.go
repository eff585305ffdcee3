package session

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically evicts sessions that have been idle longer than
// the configured maximum. A single pass never takes the process down:
// problems are logged and the next pass runs as scheduled.
type Reaper struct {
	registry *Registry
	interval time.Duration
	maxIdle  time.Duration
	logger   *slog.Logger
}

// NewReaper creates a reaper over the registry.
func NewReaper(registry *Registry, interval, maxIdle time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		registry: registry,
		interval: interval,
		maxIdle:  maxIdle,
		logger:   logger.With("component", "session.reaper"),
	}
}

// Run loops until the context is cancelled.
// Call this in a goroutine at process start.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pass()
		}
	}
}

// pass runs one reap cycle, recovering from anything unexpected so the
// loop survives.
func (r *Reaper) pass() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reaper pass panicked", "panic", rec)
		}
	}()

	removed := r.registry.Reap(r.maxIdle)
	if len(removed) > 0 {
		r.logger.Info("removed inactive sessions",
			"count", len(removed),
			"active", r.registry.Len(),
		)
	}
}
