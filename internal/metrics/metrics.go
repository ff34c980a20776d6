// Package metrics exposes Prometheus collectors for tool calls and statement
// execution. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the registered metric vectors.
type Collector struct {
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	classifications *prometheus.CounterVec
	statements      *prometheus.CounterVec
	truncated       prometheus.Counter
	inflight        prometheus.Gauge
}

// New registers the collectors with reg. Panics if they are already
// registered, as promauto does.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgsafe_tool_calls_total",
				Help: "Total number of MCP tool calls",
			},
			[]string{"tool", "status"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgsafe_tool_call_duration_seconds",
				Help:    "MCP tool call duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),
		classifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgsafe_classifications_total",
				Help: "Statement classifications by verdict",
			},
			[]string{"kind"},
		),
		statements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgsafe_statements_total",
				Help: "Statements sent to the database by execution path and outcome",
			},
			[]string{"path", "outcome"},
		),
		truncated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pgsafe_results_truncated_total",
				Help: "Safe-path results cut off at the row limit",
			},
		),
		inflight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pgsafe_statements_inflight",
				Help: "Statements currently holding a database connection",
			},
		),
	}
}

// RecordToolCall records a finished tool call.
func (c *Collector) RecordToolCall(tool string, failed bool, d time.Duration) {
	if c == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	c.toolCalls.WithLabelValues(tool, status).Inc()
	c.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordClassification records a classifier verdict.
func (c *Collector) RecordClassification(kind string) {
	if c == nil {
		return
	}
	c.classifications.WithLabelValues(kind).Inc()
}

// RecordStatement records a statement outcome ("ok", "error", "rejected").
func (c *Collector) RecordStatement(path, outcome string) {
	if c == nil {
		return
	}
	c.statements.WithLabelValues(path, outcome).Inc()
}

// RecordTruncated counts a result cut off at the row limit.
func (c *Collector) RecordTruncated() {
	if c == nil {
		return
	}
	c.truncated.Inc()
}

// Track marks a statement as in flight and returns the func that clears it.
func (c *Collector) Track() func() {
	if c == nil {
		return func() {}
	}
	c.inflight.Inc()
	return c.inflight.Dec
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
