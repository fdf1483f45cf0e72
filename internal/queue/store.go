// Package queue defines the durable crawl queue's storage contract. Concrete
// backends live in subpackages (see queue/sqlite).
package queue

import (
	"context"

	"github.com/arclamp/ingestd/internal/lens"
	"github.com/arclamp/ingestd/internal/task"
)

// EnqueueRequest bundles everything bulk enqueue needs (spec §4.4).
type EnqueueRequest struct {
	URLs      []string
	Lenses    []*lens.RuleSet
	BlockList []string
	Settings  task.UserSettings
	Overrides task.Overrides
	Pipeline  string
}

// CountByStatus is one row of the per-domain, per-status queue depth report.
type CountByStatus struct {
	Domain string
	Status task.Status
	Count  int64
}

// Store is the durable queue's storage contract: every method corresponds
// directly to an operation named in spec §4.4-§4.7.
type Store interface {
	// EnqueueAll filters req.URLs through the admission filter, drops URLs
	// already present in the external indexed_document table (unless this is
	// a recrawl), and bulk-upserts the remainder in task.BatchSize chunks.
	EnqueueAll(ctx context.Context, req EnqueueRequest) error

	// Dequeue atomically selects and claims the next runnable task, honoring
	// the global cap, bootstrap priority, and per-domain caps (spec §4.5).
	// Returns (nil, nil) when there is nothing eligible to claim.
	Dequeue(ctx context.Context, settings task.UserSettings) (*task.Task, error)

	// DequeueRecrawl claims the oldest-updated Completed file:// task whose
	// updated_at is at least a day old (spec §4.6).
	DequeueRecrawl(ctx context.Context, settings task.UserSettings) (*task.Task, error)

	// MarkDone transitions id to Completed, attaching tags if given.
	MarkDone(ctx context.Context, id int64, tags []task.Tag) error

	// MarkFailed applies the retry/terminal-failure logic of spec §4.7/P7.
	MarkFailed(ctx context.Context, id int64, retry bool) error

	// UpdateOrRemoveTask renames id's URL to canonicalURL, or if another task
	// already owns that URL, deletes id and returns the surviving task.
	UpdateOrRemoveTask(ctx context.Context, id int64, canonicalURL string) (*task.Task, error)

	// RemoveByRule deletes tasks whose URL matches the SQL LIKE pattern,
	// returning the number of rows removed.
	RemoveByRule(ctx context.Context, likePattern string) (int64, error)

	// ResetInFlight transitions every Processing row back to Queued; called
	// once at Supervisor startup to recover from a crash (spec §4.8, P9).
	ResetInFlight(ctx context.Context) (int64, error)

	// QueueStats reports per-domain, per-status row counts.
	QueueStats(ctx context.Context) ([]CountByStatus, error)

	// Close releases the underlying connection.
	Close() error
}
