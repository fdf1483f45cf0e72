package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/montanaflynn/stats"
)

// Metrics tracks operational metrics for the ingestion daemon.
type Metrics struct {
	// Queue metrics (spec §6 status lifecycle)
	QueueDepthQueued     atomic.Int64
	QueueDepthProcessing atomic.Int64
	QueueDepthCompleted  atomic.Int64
	QueueDepthFailed     atomic.Int64

	// Scheduler metrics
	TasksDequeued atomic.Int64
	TasksDone     atomic.Int64
	TasksFailed   atomic.Int64
	TasksRequeued atomic.Int64

	// Plugin host metrics (spec §4.9)
	PluginCallsTotal  atomic.Int64
	PluginErrorsTotal atomic.Int64

	dequeueLatency latencySamples

	logger *slog.Logger
}

// latencySamples is a bounded ring buffer of dequeue latencies (seconds),
// read by montanaflynn/stats to compute exposed percentiles.
type latencySamples struct {
	mu      sync.Mutex
	samples []float64
	cap     int
}

const maxLatencySamples = 4096

func (l *latencySamples) record(seconds float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cap == 0 {
		l.cap = maxLatencySamples
	}
	l.samples = append(l.samples, seconds)
	if len(l.samples) > l.cap {
		l.samples = l.samples[len(l.samples)-l.cap:]
	}
}

func (l *latencySamples) percentile(p float64) float64 {
	l.mu.Lock()
	snapshot := append([]float64(nil), l.samples...)
	l.mu.Unlock()

	if len(snapshot) == 0 {
		return 0
	}
	v, err := stats.Percentile(snapshot, p)
	if err != nil {
		return 0
	}
	return v
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// RecordQueueStats overwrites the queue-depth-by-status gauges from a fresh
// store snapshot (spec §10.4 ingestd_queue_depth{status=...}).
func (m *Metrics) RecordQueueStats(queued, processing, completed, failed int64) {
	m.QueueDepthQueued.Store(queued)
	m.QueueDepthProcessing.Store(processing)
	m.QueueDepthCompleted.Store(completed)
	m.QueueDepthFailed.Store(failed)
}

// RecordDequeue records one dequeue's latency (time between a task's
// last update and its claim) for percentile reporting.
func (m *Metrics) RecordDequeue(d time.Duration) {
	m.TasksDequeued.Add(1)
	m.dequeueLatency.record(d.Seconds())
}

// RecordPluginCall increments plugin call/error counters (spec §10.4
// ingestd_plugin_calls_total, ingestd_plugin_errors_total).
func (m *Metrics) RecordPluginCall(err error) {
	m.PluginCallsTotal.Add(1)
	if err != nil {
		m.PluginErrorsTotal.Add(1)
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	type counter struct {
		name  string
		help  string
		value float64
	}

	counters := []counter{
		{"ingestd_queue_depth{status=\"Queued\"}", "Current queue depth by status", float64(m.QueueDepthQueued.Load())},
		{"ingestd_queue_depth{status=\"Processing\"}", "Current queue depth by status", float64(m.QueueDepthProcessing.Load())},
		{"ingestd_queue_depth{status=\"Completed\"}", "Current queue depth by status", float64(m.QueueDepthCompleted.Load())},
		{"ingestd_queue_depth{status=\"Failed\"}", "Current queue depth by status", float64(m.QueueDepthFailed.Load())},
		{"ingestd_tasks_dequeued_total", "Total tasks claimed off the queue", float64(m.TasksDequeued.Load())},
		{"ingestd_tasks_done_total", "Total tasks marked done", float64(m.TasksDone.Load())},
		{"ingestd_tasks_failed_total", "Total tasks terminally failed", float64(m.TasksFailed.Load())},
		{"ingestd_tasks_requeued_total", "Total tasks requeued after a retryable failure", float64(m.TasksRequeued.Load())},
		{"ingestd_plugin_calls_total", "Total plugin invocations", float64(m.PluginCallsTotal.Load())},
		{"ingestd_plugin_errors_total", "Total plugin invocation errors", float64(m.PluginErrorsTotal.Load())},
		{"ingestd_dequeue_latency_seconds{quantile=\"0.5\"}", "Dequeue latency percentile", m.dequeueLatency.percentile(50)},
		{"ingestd_dequeue_latency_seconds{quantile=\"0.9\"}", "Dequeue latency percentile", m.dequeueLatency.percentile(90)},
		{"ingestd_dequeue_latency_seconds{quantile=\"0.99\"}", "Dequeue latency percentile", m.dequeueLatency.percentile(99)},
	}

	for _, c := range counters {
		fmt.Fprintf(w, "# HELP %s\n", c.help)
		fmt.Fprintf(w, "%s %v\n", c.name, c.value)
	}
}

// StartServer starts the metrics HTTP server.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Snapshot returns all metrics as a map, primarily for tests.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"queue_depth_queued":     m.QueueDepthQueued.Load(),
		"queue_depth_processing": m.QueueDepthProcessing.Load(),
		"queue_depth_completed":  m.QueueDepthCompleted.Load(),
		"queue_depth_failed":     m.QueueDepthFailed.Load(),
		"tasks_dequeued":         m.TasksDequeued.Load(),
		"tasks_done":             m.TasksDone.Load(),
		"tasks_failed":           m.TasksFailed.Load(),
		"tasks_requeued":         m.TasksRequeued.Load(),
		"plugin_calls_total":     m.PluginCallsTotal.Load(),
		"plugin_errors_total":    m.PluginErrorsTotal.Load(),
	}
}
