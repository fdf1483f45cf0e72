// Package sqlite is a modernc.org/sqlite-backed implementation of
// queue.Store: a pure-Go, CGo-free driver carrying the durable crawl queue
// that spec §4.4-§4.8 describes.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	_ "modernc.org/sqlite"

	"github.com/arclamp/ingestd/internal/lens"
	"github.com/arclamp/ingestd/internal/queue"
	"github.com/arclamp/ingestd/internal/task"
)

// Store is a SQLite-backed queue.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// indexedFilter is a probabilistic pre-check for the already_indexed
	// membership test in EnqueueAll: most never-seen URLs skip the round
	// trip to indexed_document entirely. A positive still falls through to
	// the authoritative SQL IN (...) check, so false positives cannot admit
	// a URL that should have been dropped, nor drop one that should be kept.
	indexedFilter *bloom.BloomFilter
	filterMu      sync.Mutex
}

// Open creates (or attaches to) a SQLite database at path and applies the
// schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, avoid SQLITE_BUSY

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	s := &Store{
		db:            db,
		logger:        logger.With("component", "queue_store"),
		indexedFilter: bloom.NewWithEstimates(1_000_000, 0.01),
	}

	if err := s.primeIndexedFilter(context.Background()); err != nil {
		logger.Warn("failed to prime indexed-document bloom filter", "error", err)
	}

	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) primeIndexedFilter(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM indexed_document`)
	if err != nil {
		return err
	}
	defer rows.Close()

	s.filterMu.Lock()
	defer s.filterMu.Unlock()
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return err
		}
		s.indexedFilter.AddString(url)
	}
	return rows.Err()
}

// EnqueueAll implements spec §4.4.
func (s *Store) EnqueueAll(ctx context.Context, req queue.EnqueueRequest) error {
	filtered, err := lens.FilterURLs(req.Lenses, req.BlockList, req.Settings, req.Overrides, req.URLs)
	if err != nil {
		return fmt.Errorf("enqueue_all: filter urls: %w", err)
	}
	if len(filtered) == 0 {
		return nil
	}

	toAdd := filtered
	if !req.Overrides.IsRecrawl {
		toAdd, err = s.dropAlreadyIndexed(ctx, filtered)
		if err != nil {
			return fmt.Errorf("enqueue_all: already_indexed check: %w", err)
		}
	}
	if len(toAdd) == 0 {
		return nil
	}

	for _, chunk := range chunkStrings(toAdd, task.BatchSize) {
		if err := s.upsertChunk(ctx, chunk, req); err != nil {
			// Per-chunk failures are logged and skipped (spec §4.4 step 5):
			// the function does not abort the entire enqueue.
			s.logger.Error("enqueue chunk failed", "size", len(chunk), "error", err)
		}
	}
	return nil
}

func (s *Store) dropAlreadyIndexed(ctx context.Context, urls []string) ([]string, error) {
	candidates := make([]string, 0, len(urls))

	s.filterMu.Lock()
	maybeIndexed := make([]string, 0)
	for _, u := range urls {
		if s.indexedFilter.TestString(u) {
			maybeIndexed = append(maybeIndexed, u)
		} else {
			candidates = append(candidates, u)
		}
	}
	s.filterMu.Unlock()

	if len(maybeIndexed) == 0 {
		return candidates, nil
	}

	indexed := make(map[string]struct{}, len(maybeIndexed))
	for _, chunk := range chunkStrings(maybeIndexed, task.BatchSize) {
		rows, err := s.db.QueryContext(ctx, inClause(`SELECT url FROM indexed_document WHERE url IN (%s)`, len(chunk)), toArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var url string
			if err := rows.Scan(&url); err != nil {
				rows.Close()
				return nil, err
			}
			indexed[url] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	for _, u := range maybeIndexed {
		if _, found := indexed[u]; !found {
			candidates = append(candidates, u)
		}
	}
	return candidates, nil
}

func (s *Store) upsertChunk(ctx context.Context, urls []string, req queue.EnqueueRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var conflictClause string
	if req.Overrides.IsRecrawl {
		conflictClause = `ON CONFLICT(url) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`
	} else {
		conflictClause = `ON CONFLICT(url) DO NOTHING`
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO crawl_queue (domain, url, status, crawl_type, num_retries, pipeline, created_at, updated_at)
		VALUES (?, ?, 'Queued', ?, 0, ?, ?, ?)
		%s`, conflictClause))
	if err != nil {
		return err
	}
	defer stmt.Close()

	crawlType := req.Overrides.CrawlType
	if crawlType == "" {
		crawlType = task.CrawlTypeNormal
	}

	for _, u := range urls {
		domain, derr := domainFor(u)
		if derr != nil {
			s.logger.Warn("skipping url with unparseable domain", "url", u, "error", derr)
			continue
		}
		if _, err := stmt.ExecContext(ctx, domain, u, crawlType, nullableString(req.Pipeline), now, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.filterMu.Lock()
	for _, u := range urls {
		s.indexedFilter.AddString(u)
	}
	s.filterMu.Unlock()
	return nil
}

// Dequeue implements spec §4.5.
func (s *Store) Dequeue(ctx context.Context, settings task.UserSettings) (*task.Task, error) {
	if settings.InflightCrawlLimit.Finite {
		n, err := s.countProcessing(ctx)
		if err != nil {
			return nil, err
		}
		if n >= int64(settings.InflightCrawlLimit.Limit) {
			return nil, nil
		}
	}

	candidate, err := s.selectOne(ctx, `SELECT id, domain, url, status, crawl_type, num_retries, error_kind, error_message, data, pipeline, created_at, updated_at
		FROM crawl_queue WHERE status = 'Queued' AND crawl_type = 'Bootstrap' ORDER BY id ASC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		candidate, err = s.selectOne(ctx, dequeueSQL, settings.DomainCrawlLimit, settings.InflightDomainLimit)
		if err != nil {
			return nil, err
		}
	}
	if candidate == nil {
		return nil, nil
	}

	return s.claim(ctx, candidate.ID, task.StatusQueued)
}

// DequeueRecrawl implements spec §4.6.
func (s *Store) DequeueRecrawl(ctx context.Context, settings task.UserSettings) (*task.Task, error) {
	if settings.InflightCrawlLimit.Finite {
		n, err := s.countProcessing(ctx)
		if err != nil {
			return nil, err
		}
		if n >= int64(settings.InflightCrawlLimit.Limit) {
			return nil, nil
		}
	}

	candidate, err := s.selectOne(ctx, `SELECT id, domain, url, status, crawl_type, num_retries, error_kind, error_message, data, pipeline, created_at, updated_at
		FROM crawl_queue WHERE status = 'Completed' AND url LIKE 'file://%' ORDER BY updated_at ASC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, nil
	}
	if time.Since(candidate.UpdatedAt) < 24*time.Hour {
		return nil, nil
	}

	return s.claim(ctx, candidate.ID, task.StatusCompleted)
}

// claim performs the compare-and-swap transition to Processing (Open
// Question 2, SPEC_FULL.md §9.1): a single UPDATE guarded by the row's
// current status (from: Queued for Dequeue, Completed for DequeueRecrawl),
// using RETURNING to read the post-claim row back in one round trip. A
// zero-row update means another dequeue already claimed it.
func (s *Store) claim(ctx context.Context, id int64, from task.Status) (*task.Task, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		UPDATE crawl_queue SET status = 'Processing', updated_at = ?
		WHERE id = ? AND status = ?
		RETURNING id, domain, url, status, crawl_type, num_retries, error_kind, error_message, data, pipeline, created_at, updated_at`,
		now, id, string(from))

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		s.logger.Debug("claim lost to concurrent dequeue", "task_id", id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task %d: %w", id, err)
	}
	return t, nil
}

func (s *Store) countProcessing(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM crawl_queue WHERE status = 'Processing'`).Scan(&n)
	return n, err
}

// MarkDone implements spec §4.7.
func (s *Store) MarkDone(ctx context.Context, id int64, tags []task.Tag) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE crawl_queue SET status = 'Completed', updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return task.ErrTaskNotFound
	}

	for _, tg := range tags {
		var tagID int64
		err := tx.QueryRowContext(ctx, `INSERT INTO tag (label, value) VALUES (?, ?)
			ON CONFLICT(label, value) DO UPDATE SET label = excluded.label
			RETURNING id`, tg.Label, tg.Value).Scan(&tagID)
		if err != nil {
			return fmt.Errorf("mark_done: upsert tag %q=%q: %w", tg.Label, tg.Value, err)
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `INSERT INTO crawl_tag (crawl_queue_id, tag_id, created_at, updated_at)
			VALUES (?, ?, ?, ?) ON CONFLICT(crawl_queue_id, tag_id) DO NOTHING`, id, tagID, now, now); err != nil {
			return fmt.Errorf("mark_done: link tag: %w", err)
		}
	}

	return tx.Commit()
}

// MarkFailed implements spec §4.7 / P7.
func (s *Store) MarkFailed(ctx context.Context, id int64, retry bool) error {
	var numRetries int
	err := s.db.QueryRowContext(ctx, `SELECT num_retries FROM crawl_queue WHERE id = ?`, id).Scan(&numRetries)
	if err == sql.ErrNoRows {
		return task.ErrTaskNotFound
	}
	if err != nil {
		return err
	}

	var res sql.Result
	if retry && numRetries < task.MaxRetries {
		res, err = s.db.ExecContext(ctx, `UPDATE crawl_queue SET status = 'Queued', num_retries = num_retries + 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE crawl_queue SET status = 'Failed', updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return task.ErrTaskNotFound
	}
	return nil
}

// UpdateOrRemoveTask implements spec §4.7 / P8.
func (s *Store) UpdateOrRemoveTask(ctx context.Context, id int64, canonicalURL string) (*task.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, err := scanTask(tx.QueryRowContext(ctx, `SELECT id, domain, url, status, crawl_type, num_retries, error_kind, error_message, data, pipeline, created_at, updated_at
		FROM crawl_queue WHERE url = ?`, canonicalURL))
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	if existing != nil {
		if existing.ID != id {
			if _, err := tx.ExecContext(ctx, `DELETE FROM crawl_queue WHERE id = ?`, id); err != nil {
				return nil, err
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return existing, nil
	}

	current, err := scanTask(tx.QueryRowContext(ctx, `SELECT id, domain, url, status, crawl_type, num_retries, error_kind, error_message, data, pipeline, created_at, updated_at
		FROM crawl_queue WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, task.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	if current.URL != canonicalURL {
		if _, err := tx.ExecContext(ctx, `UPDATE crawl_queue SET url = ?, updated_at = ? WHERE id = ?`, canonicalURL, time.Now().UTC(), id); err != nil {
			return nil, err
		}
		current.URL = canonicalURL
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return current, nil
}

// RemoveByRule implements spec §4.7.
func (s *Store) RemoveByRule(ctx context.Context, likePattern string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM crawl_queue WHERE url LIKE ?`, likePattern)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err == nil && n > 0 {
		s.logger.Info("removed tasks by rule", "count", n, "pattern", likePattern)
	}
	return n, err
}

// ResetInFlight implements spec §4.8 / P9.
func (s *Store) ResetInFlight(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE crawl_queue SET status = 'Queued', updated_at = ? WHERE status = 'Processing'`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// QueueStats reports per-domain, per-status counts.
func (s *Store) QueueStats(ctx context.Context) ([]queue.CountByStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT domain, status, count(*) FROM crawl_queue GROUP BY domain, status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queue.CountByStatus
	for rows.Next() {
		var c queue.CountByStatus
		if err := rows.Scan(&c.Domain, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
