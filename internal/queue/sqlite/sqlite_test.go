package sqlite

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/arclamp/ingestd/internal/lens"
	"github.com/arclamp/ingestd/internal/queue"
	"github.com/arclamp/ingestd/internal/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func exampleLens(t *testing.T) *lens.RuleSet {
	t.Helper()
	rs, err := lens.CompileLens(lens.Config{Name: "example", Domains: []string{"example.com"}})
	if err != nil {
		t.Fatalf("CompileLens: %v", err)
	}
	return rs
}

// Seed scenario 1.
func TestEnqueueAllNormalizesURL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.EnqueueAll(ctx, enqueueReq(t, []string{"https://example.com/#frag"}))
	if err != nil {
		t.Fatalf("EnqueueAll: %v", err)
	}

	stats, err := s.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if len(stats) != 1 || stats[0].Count != 1 {
		t.Fatalf("got %+v, want exactly one row", stats)
	}

	got, err := s.selectOne(ctx, `SELECT id, domain, url, status, crawl_type, num_retries, error_kind, error_message, data, pipeline, created_at, updated_at FROM crawl_queue`)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.URL != "https://example.com/" {
		t.Fatalf("url = %q, want canonical form without fragment", got.URL)
	}
}

// P2: duplicate enqueue without is_recrawl leaves exactly one row.
func TestEnqueueAllDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	req := enqueueReq(t, []string{"https://example.com/a"})

	if err := s.EnqueueAll(ctx, req); err != nil {
		t.Fatalf("first EnqueueAll: %v", err)
	}
	if err := s.EnqueueAll(ctx, req); err != nil {
		t.Fatalf("second EnqueueAll: %v", err)
	}

	stats, err := s.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	var total int64
	for _, c := range stats {
		total += c.Count
	}
	if total != 1 {
		t.Fatalf("total rows = %d, want 1", total)
	}
}

// Seed scenario 2: remove_by_rule drops the matching row only.
func TestRemoveByRule(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	wiki, err := lens.CompileLens(lens.Config{Name: "wiki", Domains: []string{"en.wikipedia.com"}})
	if err != nil {
		t.Fatalf("CompileLens: %v", err)
	}
	req := queueReqWithLens(wiki, []string{
		"https://en.wikipedia.com/wiki/Cheese?action=edit",
		"https://en.wikipedia.com/wiki/Mozilla",
	})
	if err := s.EnqueueAll(ctx, req); err != nil {
		t.Fatalf("EnqueueAll: %v", err)
	}

	n, err := s.RemoveByRule(ctx, "https://en.wikipedia.com/%action=%")
	if err != nil {
		t.Fatalf("RemoveByRule: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed %d rows, want 1", n)
	}

	stats, err := s.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	var total int64
	for _, c := range stats {
		total += c.Count
	}
	if total != 1 {
		t.Fatalf("remaining rows = %d, want 1", total)
	}
}

// Seed scenario 3: update_or_remove_task collapses a duplicate URL.
func TestUpdateOrRemoveTaskCollapsesDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.EnqueueAll(ctx, enqueueReq(t, []string{"https://example.com/"})); err != nil {
		t.Fatalf("EnqueueAll base: %v", err)
	}
	if err := s.EnqueueAll(ctx, enqueueReq(t, []string{"https://example.com/redirect"})); err != nil {
		t.Fatalf("EnqueueAll redirect: %v", err)
	}

	base, err := s.selectOne(ctx, `SELECT id, domain, url, status, crawl_type, num_retries, error_kind, error_message, data, pipeline, created_at, updated_at FROM crawl_queue WHERE url = ?`, "https://example.com/")
	if err != nil {
		t.Fatalf("select base: %v", err)
	}
	redirect, err := s.selectOne(ctx, `SELECT id, domain, url, status, crawl_type, num_retries, error_kind, error_message, data, pipeline, created_at, updated_at FROM crawl_queue WHERE url = ?`, "https://example.com/redirect")
	if err != nil {
		t.Fatalf("select redirect: %v", err)
	}

	if err := s.MarkDone(ctx, base.ID, nil); err != nil {
		t.Fatalf("MarkDone base: %v", err)
	}
	if err := s.MarkDone(ctx, redirect.ID, nil); err != nil {
		t.Fatalf("MarkDone redirect: %v", err)
	}

	got, err := s.UpdateOrRemoveTask(ctx, redirect.ID, "https://example.com/")
	if err != nil {
		t.Fatalf("UpdateOrRemoveTask: %v", err)
	}
	if got.ID != base.ID {
		t.Fatalf("returned task id = %d, want base task id %d", got.ID, base.ID)
	}

	stats, err := s.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	var total int64
	for _, c := range stats {
		total += c.Count
	}
	if total != 1 {
		t.Fatalf("remaining rows = %d, want 1", total)
	}

	// P8: calling again with the same arguments is idempotent.
	got2, err := s.UpdateOrRemoveTask(ctx, redirect.ID, "https://example.com/")
	if err != nil {
		t.Fatalf("UpdateOrRemoveTask (repeat): %v", err)
	}
	if got2.ID != base.ID {
		t.Fatalf("repeat call id = %d, want %d", got2.ID, base.ID)
	}
}

func TestUpdateOrRemoveTaskMissingID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.UpdateOrRemoveTask(ctx, 999, "https://example.com/"); err != task.ErrTaskNotFound {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}

// Seed scenario 4: dequeue_recrawl claims a day-stale local file.
func TestDequeueRecrawlClaimsStaleLocalFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	req := enqueueReq(t, []string{"file:///tmp/test.txt"})
	req.Overrides.ForceAllow = true // the example.com lens does not admit file:// URLs
	if err := s.EnqueueAll(ctx, req); err != nil {
		t.Fatalf("EnqueueAll: %v", err)
	}
	row, err := s.selectOne(ctx, `SELECT id, domain, url, status, crawl_type, num_retries, error_kind, error_message, data, pipeline, created_at, updated_at FROM crawl_queue`)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := s.MarkDone(ctx, row.ID, nil); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	staleTime := time.Now().UTC().Add(-25 * time.Hour)
	if _, err := s.db.ExecContext(ctx, `UPDATE crawl_queue SET updated_at = ? WHERE id = ?`, staleTime, row.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	got, err := s.DequeueRecrawl(ctx, task.DefaultUserSettings())
	if err != nil {
		t.Fatalf("DequeueRecrawl: %v", err)
	}
	if got == nil {
		t.Fatal("DequeueRecrawl returned nil, want the stale file task")
	}
	if got.Status != task.StatusProcessing {
		t.Fatalf("status = %v, want Processing", got.Status)
	}
}

func TestDequeueRecrawlIgnoresFreshCompleted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	req := enqueueReq(t, []string{"file:///tmp/fresh.txt"})
	req.Overrides.ForceAllow = true // the example.com lens does not admit file:// URLs
	if err := s.EnqueueAll(ctx, req); err != nil {
		t.Fatalf("EnqueueAll: %v", err)
	}
	row, err := s.selectOne(ctx, `SELECT id, domain, url, status, crawl_type, num_retries, error_kind, error_message, data, pipeline, created_at, updated_at FROM crawl_queue`)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := s.MarkDone(ctx, row.ID, nil); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	got, err := s.DequeueRecrawl(ctx, task.DefaultUserSettings())
	if err != nil {
		t.Fatalf("DequeueRecrawl: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil (not yet stale)", got)
	}
}

// Seed scenario 5 + P5: per-domain indexed-document cap.
func TestDequeueRespectsDomainCrawlLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.db.ExecContext(ctx, `INSERT INTO indexed_document (domain, url) VALUES ('oldschool.runescape.wiki', 'https://oldschool.runescape.wiki/w/Already')`); err != nil {
		t.Fatalf("seed indexed_document: %v", err)
	}
	osrs, err := lens.CompileLens(lens.Config{Name: "osrs", Domains: []string{"oldschool.runescape.wiki"}})
	if err != nil {
		t.Fatalf("CompileLens: %v", err)
	}
	if err := s.EnqueueAll(ctx, queueReqWithLens(osrs, []string{"https://oldschool.runescape.wiki/w/Worn_Equipment"})); err != nil {
		t.Fatalf("EnqueueAll: %v", err)
	}

	settings := task.DefaultUserSettings()
	settings.DomainCrawlLimit = 1
	if got, err := s.Dequeue(ctx, settings); err != nil {
		t.Fatalf("Dequeue: %v", err)
	} else if got != nil {
		t.Fatalf("got %+v, want nil when domain_crawl_limit=1 is already met", got)
	}

	settings.DomainCrawlLimit = 2
	got, err := s.Dequeue(ctx, settings)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got == nil {
		t.Fatal("got nil, want the task once domain_crawl_limit=2")
	}
}

// P6: bootstrap precedence.
func TestDequeuePrefersBootstrap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	normalReq := enqueueReq(t, []string{"https://example.com/normal"})
	if err := s.EnqueueAll(ctx, normalReq); err != nil {
		t.Fatalf("EnqueueAll normal: %v", err)
	}
	bootstrapReq := enqueueReq(t, []string{"https://example.com/bootstrap"})
	bootstrapReq.Overrides.CrawlType = task.CrawlTypeBootstrap
	if err := s.EnqueueAll(ctx, bootstrapReq); err != nil {
		t.Fatalf("EnqueueAll bootstrap: %v", err)
	}

	got, err := s.Dequeue(ctx, task.DefaultUserSettings())
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got == nil || got.CrawlType != task.CrawlTypeBootstrap {
		t.Fatalf("got %+v, want the Bootstrap task", got)
	}
}

// P4: dequeue leaves the task Processing.
func TestDequeueClaimsProcessing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.EnqueueAll(ctx, enqueueReq(t, []string{"https://example.com/a"})); err != nil {
		t.Fatalf("EnqueueAll: %v", err)
	}

	got, err := s.Dequeue(ctx, task.DefaultUserSettings())
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got == nil || got.Status != task.StatusProcessing {
		t.Fatalf("got %+v, want Processing", got)
	}
}

// P7: retry accounting and terminal failure.
func TestMarkFailedRetryAccounting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.EnqueueAll(ctx, enqueueReq(t, []string{"https://example.com/a"})); err != nil {
		t.Fatalf("EnqueueAll: %v", err)
	}
	row, err := s.selectOne(ctx, `SELECT id, domain, url, status, crawl_type, num_retries, error_kind, error_message, data, pipeline, created_at, updated_at FROM crawl_queue`)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	for i := 0; i < task.MaxRetries; i++ {
		if err := s.MarkFailed(ctx, row.ID, true); err != nil {
			t.Fatalf("MarkFailed iter %d: %v", i, err)
		}
	}
	got, err := s.selectOne(ctx, `SELECT id, domain, url, status, crawl_type, num_retries, error_kind, error_message, data, pipeline, created_at, updated_at FROM crawl_queue WHERE id = ?`, row.ID)
	if err != nil {
		t.Fatalf("select after retries: %v", err)
	}
	if got.Status != task.StatusQueued || got.NumRetries != task.MaxRetries {
		t.Fatalf("after %d retries: status=%v num_retries=%d, want Queued/%d", task.MaxRetries, got.Status, got.NumRetries, task.MaxRetries)
	}

	if err := s.MarkFailed(ctx, row.ID, true); err != nil {
		t.Fatalf("MarkFailed final: %v", err)
	}
	final, err := s.selectOne(ctx, `SELECT id, domain, url, status, crawl_type, num_retries, error_kind, error_message, data, pipeline, created_at, updated_at FROM crawl_queue WHERE id = ?`, row.ID)
	if err != nil {
		t.Fatalf("select final: %v", err)
	}
	if final.Status != task.StatusFailed {
		t.Fatalf("status = %v, want Failed after exceeding MaxRetries", final.Status)
	}
}

// P9: startup recovery clears all Processing rows.
func TestResetInFlight(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.EnqueueAll(ctx, enqueueReq(t, []string{"https://example.com/a", "https://example.com/b"})); err != nil {
		t.Fatalf("EnqueueAll: %v", err)
	}
	if _, err := s.Dequeue(ctx, task.DefaultUserSettings()); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	n, err := s.ResetInFlight(ctx)
	if err != nil {
		t.Fatalf("ResetInFlight: %v", err)
	}
	if n != 1 {
		t.Fatalf("reset %d rows, want 1", n)
	}

	stats, err := s.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	for _, c := range stats {
		if c.Status == task.StatusProcessing {
			t.Fatalf("found Processing row after ResetInFlight: %+v", c)
		}
	}
}

func enqueueReq(t *testing.T, urls []string) queue.EnqueueRequest {
	return queueReqWithLens(exampleLens(t), urls)
}

func queueReqWithLens(rs *lens.RuleSet, urls []string) queue.EnqueueRequest {
	return queue.EnqueueRequest{
		URLs:     urls,
		Lenses:   []*lens.RuleSet{rs},
		Settings: task.DefaultUserSettings(),
	}
}
