package observability

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRecordQueueStatsUpdatesGauges(t *testing.T) {
	m := NewMetrics(testLogger())
	m.RecordQueueStats(10, 2, 100, 3)

	snap := m.Snapshot()
	if snap["queue_depth_queued"] != 10 || snap["queue_depth_processing"] != 2 ||
		snap["queue_depth_completed"] != 100 || snap["queue_depth_failed"] != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestRecordDequeueIncrementsCounterAndLatency(t *testing.T) {
	m := NewMetrics(testLogger())
	m.RecordDequeue(50 * time.Millisecond)
	m.RecordDequeue(100 * time.Millisecond)

	if got := m.Snapshot()["tasks_dequeued"]; got != 2 {
		t.Fatalf("tasks_dequeued = %d, want 2", got)
	}
	if p := m.dequeueLatency.percentile(50); p <= 0 {
		t.Fatalf("expected nonzero p50 latency, got %v", p)
	}
}

func TestRecordPluginCallTracksErrors(t *testing.T) {
	m := NewMetrics(testLogger())
	m.RecordPluginCall(nil)
	m.RecordPluginCall(io.ErrUnexpectedEOF)

	snap := m.Snapshot()
	if snap["plugin_calls_total"] != 2 {
		t.Fatalf("plugin_calls_total = %d, want 2", snap["plugin_calls_total"])
	}
	if snap["plugin_errors_total"] != 1 {
		t.Fatalf("plugin_errors_total = %d, want 1", snap["plugin_errors_total"])
	}
}

func TestServeHTTPExposesQueueDepthGauges(t *testing.T) {
	m := NewMetrics(testLogger())
	m.RecordQueueStats(5, 1, 0, 0)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `ingestd_queue_depth{status="Queued"} 5`) {
		t.Fatalf("missing queued gauge in output:\n%s", body)
	}
	if !strings.Contains(body, `ingestd_queue_depth{status="Processing"} 1`) {
		t.Fatalf("missing processing gauge in output:\n%s", body)
	}
}
