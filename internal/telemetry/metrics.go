package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the conversation gateway.
type Metrics struct {
	RequestTotal      *prometheus.CounterVec
	RequestDurationMs *prometheus.HistogramVec
	UpstreamCallTotal *prometheus.CounterVec
	RunOutcomeTotal   *prometheus.CounterVec
	ToolCallTotal     *prometheus.CounterVec
	CacheTotal        *prometheus.CounterVec
	FilterActionTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics with reg. Tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_request_total",
			Help: "Total number of requests handled by the gateway.",
		}, []string{"route", "status"}),

		RequestDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "convo_request_duration_ms",
			Help:    "Request duration in milliseconds, including upstream latency and run polling.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		}, []string{"route"}),

		UpstreamCallTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_upstream_call_total",
			Help: "Calls made to the upstream assistant/chat API.",
		}, []string{"operation", "outcome"}),

		RunOutcomeTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_run_outcome_total",
			Help: "Final status of processed assistant runs.",
		}, []string{"status"}),

		ToolCallTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_tool_call_total",
			Help: "Tool calls answered on behalf of assistant runs.",
		}, []string{"function"}),

		CacheTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_cache_total",
			Help: "Direct query cache lookups.",
		}, []string{"result"}),

		FilterActionTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convo_filter_action_total",
			Help: "Total filter actions taken.",
		}, []string{"filter", "action"}),
	}
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Route      string
	Status     string
	DurationMs float64
}

// RecordRequest records metrics for a completed request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	m.RequestTotal.WithLabelValues(labels.Route, labels.Status).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Route).Observe(labels.DurationMs)
}

// RecordUpstreamCall records one upstream call; outcome is "ok" or "error".
func (m *Metrics) RecordUpstreamCall(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.UpstreamCallTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) RecordRunOutcome(status string) {
	m.RunOutcomeTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordToolCall(function string) {
	m.ToolCallTotal.WithLabelValues(function).Inc()
}

// RecordCache records a cache lookup; result is "hit" or "miss".
func (m *Metrics) RecordCache(result string) {
	m.CacheTotal.WithLabelValues(result).Inc()
}

// RecordFilterAction records a filter action metric.
func (m *Metrics) RecordFilterAction(filter, action string) {
	m.FilterActionTotal.WithLabelValues(filter, action).Inc()
}
