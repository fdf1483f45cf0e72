// Package scheduler runs the dequeue loop that feeds claimed tasks to a
// worker pool. Worker concurrency is bounded by an in-process semaphore
// sized by the worker count; the global in-flight cap is enforced by the
// store's Dequeue against the database count (spec §4.5, §5).
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/semaphore"

	"github.com/arclamp/ingestd/internal/queue"
	"github.com/arclamp/ingestd/internal/task"
)

// ProcessFunc handles a claimed task: fetch, parse, and report completion or
// failure via the store's MarkDone/MarkFailed. The scheduler does not call
// either itself — that decision belongs to the caller's process, which is
// outside this core's scope (spec §1).
type ProcessFunc func(ctx context.Context, t *task.Task) error

// SettingsFunc returns the current user settings snapshot; called once per
// dequeue attempt so configuration changes take effect without a restart.
type SettingsFunc func() task.UserSettings

// Scheduler periodically dequeues tasks and dispatches them to a worker
// pool. There is no dispatch channel: a semaphore sized by the worker count
// backpressures the dequeue loop, and inflight_crawl_limit is applied only
// by the store's Dequeue, not by the scheduler itself.
type Scheduler struct {
	store        queue.Store
	logger       *slog.Logger
	settingsFn   SettingsFunc
	process      ProcessFunc
	pollInterval time.Duration

	sem     *semaphore.Weighted
	pool    *pool.ContextPool
	claimed atomic.Int64
}

// New constructs a Scheduler. workers bounds worker-pool concurrency;
// pollInterval is the fixed period between claim attempts, whether or not
// the previous attempt found a task.
func New(store queue.Store, settingsFn SettingsFunc, process ProcessFunc, workers int, pollInterval time.Duration, logger *slog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		store:        store,
		logger:       logger.With("component", "scheduler"),
		settingsFn:   settingsFn,
		process:      process,
		pollInterval: pollInterval,
		sem:          semaphore.NewWeighted(int64(workers)),
	}
}

// Run dequeues and dispatches tasks until ctx is canceled, at which point it
// waits for in-flight work to finish before returning (spec §5: a canceled
// task remains Processing and is recovered on next startup).
func (s *Scheduler) Run(ctx context.Context) error {
	s.pool = pool.New().WithContext(ctx).WithCancelOnError()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.pool.Wait()
			return nil
		case <-ticker.C:
			s.dequeueOnce(ctx)
		}
	}
}

func (s *Scheduler) dequeueOnce(ctx context.Context) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}

	settings := s.settingsFn()
	t, err := s.store.Dequeue(ctx, settings)
	if err != nil {
		s.logger.Error("dequeue failed", "error", err)
		s.sem.Release(1)
		return
	}
	if t == nil {
		s.sem.Release(1)
		return
	}

	s.claimed.Add(1)
	s.pool.Go(func(ctx context.Context) error {
		defer s.sem.Release(1)
		defer s.claimed.Add(-1)
		if err := s.process(ctx, t); err != nil {
			s.logger.Error("task processing failed", "task_id", t.ID, "url", t.URL, "error", err)
		}
		return nil
	})
}

// InFlight reports how many tasks are currently claimed and dispatched but
// not yet finished processing.
func (s *Scheduler) InFlight() int64 { return s.claimed.Load() }
