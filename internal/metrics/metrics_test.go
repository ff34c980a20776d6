package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordToolCall(t *testing.T) {
	t.Parallel()
	c := New(prometheus.NewRegistry())
	c.RecordToolCall("list_tables", false, 10*time.Millisecond)
	c.RecordToolCall("list_tables", true, 20*time.Millisecond)
	c.RecordToolCall("list_tables", false, 30*time.Millisecond)

	if got := testutil.ToFloat64(c.toolCalls.WithLabelValues("list_tables", "ok")); got != 2 {
		t.Fatalf("expected 2 ok calls, got %v", got)
	}
	if got := testutil.ToFloat64(c.toolCalls.WithLabelValues("list_tables", "error")); got != 1 {
		t.Fatalf("expected 1 error call, got %v", got)
	}
	if got := testutil.CollectAndCount(c.toolDuration); got != 1 {
		t.Fatalf("expected 1 histogram series, got %d", got)
	}
}

func TestRecordClassificationAndStatements(t *testing.T) {
	t.Parallel()
	c := New(prometheus.NewRegistry())
	c.RecordClassification("mutating")
	c.RecordClassification("mutating")
	c.RecordStatement("safe", "rejected")
	c.RecordTruncated()

	if got := testutil.ToFloat64(c.classifications.WithLabelValues("mutating")); got != 2 {
		t.Fatalf("expected 2 mutating classifications, got %v", got)
	}
	if got := testutil.ToFloat64(c.statements.WithLabelValues("safe", "rejected")); got != 1 {
		t.Fatalf("expected 1 rejected statement, got %v", got)
	}
	if got := testutil.ToFloat64(c.truncated); got != 1 {
		t.Fatalf("expected 1 truncated result, got %v", got)
	}
}

func TestTrack(t *testing.T) {
	t.Parallel()
	c := New(prometheus.NewRegistry())
	done := c.Track()
	if got := testutil.ToFloat64(c.inflight); got != 1 {
		t.Fatalf("expected 1 inflight, got %v", got)
	}
	done()
	if got := testutil.ToFloat64(c.inflight); got != 0 {
		t.Fatalf("expected 0 inflight, got %v", got)
	}
}

func TestNilCollector(t *testing.T) {
	t.Parallel()
	var c *Collector
	c.RecordToolCall("x", false, time.Second)
	c.RecordClassification("read_only")
	c.RecordStatement("safe", "ok")
	c.RecordTruncated()
	c.Track()()
}

func TestHandler(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.RecordClassification("read_only")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `pgsafe_classifications_total{kind="read_only"} 1`) {
		t.Fatalf("expected classification counter in output, got:\n%s", body)
	}
}
