package sqlite

// schema is applied once at Open time. indexed_document is treated as an
// external table: this core only reads it (admission filter, enqueue
// dedup), never writes it — the full-text indexer that owns it is out of
// scope here (spec §1).
const schema = `
CREATE TABLE IF NOT EXISTS crawl_queue (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	domain        TEXT NOT NULL,
	url           TEXT NOT NULL UNIQUE,
	status        TEXT NOT NULL,
	crawl_type    TEXT NOT NULL,
	num_retries   INTEGER NOT NULL DEFAULT 0,
	error_kind    TEXT,
	error_message TEXT,
	data          BLOB,
	pipeline      TEXT,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_crawl_queue_status ON crawl_queue(status);
CREATE INDEX IF NOT EXISTS idx_crawl_queue_domain_status ON crawl_queue(domain, status);
CREATE INDEX IF NOT EXISTS idx_crawl_queue_updated_at ON crawl_queue(updated_at);

CREATE TABLE IF NOT EXISTS indexed_document (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL,
	url    TEXT NOT NULL UNIQUE,
	doc_id TEXT
);

CREATE TABLE IF NOT EXISTS tag (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	label TEXT NOT NULL,
	value TEXT NOT NULL,
	UNIQUE(label, value)
);

CREATE TABLE IF NOT EXISTS crawl_tag (
	crawl_queue_id INTEGER NOT NULL,
	tag_id         INTEGER NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL,
	UNIQUE(crawl_queue_id, tag_id)
);
`

// dequeueSQL is the CTE-based claim-candidate query from spec §4.5, adapted
// to SQLite parameter placeholders. The caller still performs the claim as a
// separate compare-and-swap UPDATE (SPEC_FULL.md §9.1, Open Question 2).
const dequeueSQL = `
WITH indexed AS (
	SELECT domain, count(*) AS count FROM indexed_document GROUP BY domain
),
inflight AS (
	SELECT domain, count(*) AS count FROM crawl_queue WHERE status = 'Processing' GROUP BY domain
)
SELECT q.id, q.domain, q.url, q.status, q.crawl_type, q.num_retries,
       q.error_kind, q.error_message, q.data, q.pipeline, q.created_at, q.updated_at
FROM crawl_queue q
LEFT JOIN indexed  i ON i.domain = q.domain
LEFT JOIN inflight f ON f.domain = q.domain
WHERE COALESCE(i.count, 0) < ?
  AND COALESCE(f.count, 0) < ?
  AND q.status = 'Queued'
ORDER BY q.updated_at ASC
LIMIT 1;
`
