// Package task defines the crawl queue's data model: tasks, tags, and the
// enum string encodings the store persists verbatim.
package task

import "time"

// MaxRetries is the maximum number of retry attempts before a task becomes
// terminally Failed.
const MaxRetries = 5

// BatchSize bounds chunked bulk operations (enqueue, indexed-doc lookups).
const BatchSize = 5000

// Status is the lifecycle state of a queued task.
type Status string

const (
	StatusQueued     Status = "Queued"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

// CrawlType classifies how a task entered the queue and controls scheduling
// priority. Bootstrap tasks are always dequeued ahead of Normal tasks.
type CrawlType string

const (
	CrawlTypeNormal    CrawlType = "Normal"
	CrawlTypeBootstrap CrawlType = "Bootstrap"
	CrawlTypeAPI       CrawlType = "API"
)

// ErrorKind classifies the stage at which a task last failed.
type ErrorKind string

const (
	ErrorKindCollect ErrorKind = "Collect"
	ErrorKindFetch   ErrorKind = "Fetch"
	ErrorKindParse   ErrorKind = "Parse"
	ErrorKindTag     ErrorKind = "Tag"
)

// TaskError records why a task's last attempt failed.
type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Tag is a (label, value) pair attached to a task via the crawl_tag join.
type Tag struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Task is a single crawl-queue entry, unique by URL.
type Task struct {
	ID         int64      `json:"id"`
	Domain     string     `json:"domain"`
	URL        string     `json:"url"`
	Status     Status     `json:"status"`
	CrawlType  CrawlType  `json:"crawl_type"`
	NumRetries int        `json:"num_retries"`
	Error      *TaskError `json:"error,omitempty"`
	Data       []byte     `json:"data,omitempty"`
	Pipeline   string     `json:"pipeline,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Tags       []Tag      `json:"tags,omitempty"`
}

// IsTerminal reports whether the task has left the active queue.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// Clone returns a deep copy of the task, safe to mutate independently.
func (t *Task) Clone() *Task {
	clone := *t
	if t.Error != nil {
		errCopy := *t.Error
		clone.Error = &errCopy
	}
	clone.Data = append([]byte(nil), t.Data...)
	clone.Tags = append([]Tag(nil), t.Tags...)
	return &clone
}

// Overrides carries per-enqueue-call parameters that are not derived from
// lens configuration: the crawl type to stamp on new rows, whether the
// admission filter's allow-list gate should be bypassed, and whether this
// call is a recrawl (re-queue of already-Completed URLs).
type Overrides struct {
	CrawlType   CrawlType
	ForceAllow  bool
	IsRecrawl   bool
}

// InflightCrawlLimit is the global cap on Processing tasks. Finite == false
// means unbounded (UserSettings.inflight_crawl_limit = Infinite).
type InflightCrawlLimit struct {
	Finite bool
	Limit  uint32
}

// Unbounded returns an InflightCrawlLimit representing Infinite.
func Unbounded() InflightCrawlLimit {
	return InflightCrawlLimit{Finite: false}
}

// FiniteLimit returns a finite InflightCrawlLimit of n.
func FiniteLimit(n uint32) InflightCrawlLimit {
	return InflightCrawlLimit{Finite: true, Limit: n}
}

// UserSettings is the configuration snapshot the scheduler and admission
// filter consume on every call (spec §3 UserSettings).
type UserSettings struct {
	InflightCrawlLimit  InflightCrawlLimit
	InflightDomainLimit uint32
	DomainCrawlLimit    uint32
	CrawlExternalLinks  bool
	BlockList           []string
}

// DefaultUserSettings mirrors the defaults named in spec §4.5/§4.6.
func DefaultUserSettings() UserSettings {
	return UserSettings{
		InflightCrawlLimit:  Unbounded(),
		InflightDomainLimit: 2,
		DomainCrawlLimit:    500_000,
	}
}
