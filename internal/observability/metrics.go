// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the session execution core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects counters and histograms for stream processing, tool
// execution, token spend, and retry behavior.
//
// All metrics register with the default Prometheus registry; create the
// Metrics value once at startup.
type Metrics struct {
	// EventsProcessed counts stream events by event kind and verdict.
	// Labels: kind (text_delta|tool_call_start|...), verdict (continue|tool_call_required|finished|cancelled|error)
	EventsProcessed *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool, status (completed|error)
	ToolDuration *prometheus.HistogramVec

	// TokensRecorded tracks token spend by model and category.
	// Labels: model, category (prompt|completion|cache_read|cache_write)
	TokensRecorded *prometheus.CounterVec

	// DoomLoopsDetected counts doom-loop detections by tool.
	// Labels: tool
	DoomLoopsDetected *prometheus.CounterVec

	// RetriesTaken counts retry attempts by session outcome.
	// Labels: reason (provider|protocol)
	RetriesTaken *prometheus.CounterVec

	// SessionRuns counts session runs by terminal outcome.
	// Labels: outcome (finished|cancelled|error)
	SessionRuns *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics with a specific registerer so
// tests can use an isolated registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_stream_events_total",
				Help: "Total stream events processed by kind and verdict",
			},
			[]string{"kind", "verdict"},
		),

		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool", "status"},
		),

		TokensRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_tokens_total",
				Help: "Total tokens recorded by model and category",
			},
			[]string{"model", "category"},
		),

		DoomLoopsDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_doom_loops_total",
				Help: "Total doom-loop detections by tool",
			},
			[]string{"tool"},
		),

		RetriesTaken: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_retries_total",
				Help: "Total retry attempts by reason",
			},
			[]string{"reason"},
		),

		SessionRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_session_runs_total",
				Help: "Total session runs by terminal outcome",
			},
			[]string{"outcome"},
		),
	}
}
