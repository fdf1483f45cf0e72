package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/arclamp/ingestd/internal/queue"
	"github.com/arclamp/ingestd/internal/task"
)

// intervalTickCadence is the fixed cadence at which the Recrawler checks for
// stale local files (spec §4.9 names the same cadence for plugin interval
// subscriptions; the recrawler reuses it for consistency).
const intervalTickCadence = 10 * time.Minute

// Recrawler periodically calls DequeueRecrawl to re-admit stale local
// files (spec §4.6). Only file:// tasks are recrawled here; remote recrawl
// is driven by an explicit EnqueueAll with Overrides.IsRecrawl = true.
type Recrawler struct {
	store      queue.Store
	logger     *slog.Logger
	settingsFn SettingsFunc
	process    ProcessFunc
	interval   time.Duration
}

// NewRecrawler constructs a Recrawler. A zero interval defaults to the
// standard 10-minute cadence.
func NewRecrawler(store queue.Store, settingsFn SettingsFunc, process ProcessFunc, interval time.Duration, logger *slog.Logger) *Recrawler {
	if interval <= 0 {
		interval = intervalTickCadence
	}
	return &Recrawler{
		store:      store,
		logger:     logger.With("component", "recrawler"),
		settingsFn: settingsFn,
		process:    process,
		interval:   interval,
	}
}

// Run ticks at r.interval until ctx is canceled, claiming and processing at
// most one stale local file per tick.
func (r *Recrawler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Recrawler) tick(ctx context.Context) {
	t, err := r.store.DequeueRecrawl(ctx, r.settingsFn())
	if err != nil {
		r.logger.Error("dequeue_recrawl failed", "error", err)
		return
	}
	if t == nil {
		return
	}
	if err := r.process(ctx, t); err != nil {
		r.logger.Error("recrawl processing failed", "task_id", t.ID, "url", t.URL, "error", err)
	}
}
