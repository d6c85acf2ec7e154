// Package schedule runs named recurring tasks on independent tickers with a
// bounded timeout per cycle and clean stop semantics.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type task struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	fn       func(ctx context.Context)
}

// Runner owns a set of recurring tasks. Register tasks with Every before
// calling Start; Stop lets in-flight cycles finish (bounded by their own
// timeout) before returning.
type Runner struct {
	mu      sync.Mutex
	tasks   []task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewRunner creates an empty runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Every registers a recurring task. A cycle that outlives timeout has its
// context cancelled so a hung scan cannot block future scans indefinitely.
func (r *Runner) Every(name string, interval, timeout time.Duration, fn func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.tasks = append(r.tasks, task{name: name, interval: interval, timeout: timeout, fn: fn})
}

// Start launches one goroutine per registered task. Tasks stop when Stop is
// called or the parent context is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	for _, t := range r.tasks {
		r.wg.Add(1)
		go r.run(ctx, t)
	}
}

func (r *Runner) run(ctx context.Context, t task) {
	defer r.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	slog.Info("Recurring task started", "task", t.name, "interval", t.interval)

	for {
		select {
		case <-ticker.C:
			r.cycle(ctx, t)
		case <-ctx.Done():
			slog.Info("Recurring task stopped", "task", t.name, "reason", ctx.Err())
			return
		}
	}
}

func (r *Runner) cycle(ctx context.Context, t task) {
	cycleCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	start := time.Now()
	t.fn(cycleCtx)
	if elapsed := time.Since(start); t.timeout > 0 && elapsed >= t.timeout {
		slog.Warn("Recurring task cycle hit its timeout", "task", t.name, "elapsed", elapsed)
	}
}

// Stop cancels all tasks and waits for in-flight cycles to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
