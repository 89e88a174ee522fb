package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting agent metrics.
//
// Tracks:
//   - Model request performance, token usage, and cost
//   - Tool invocation counts and latencies
//   - Research cache effectiveness
//   - Forecast outcomes by question type
type Metrics struct {
	// ModelRequestDuration measures model API call latency in seconds.
	// Labels: model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelTokensUsed tracks token consumption.
	// Labels: model, type (input|output)
	ModelTokensUsed *prometheus.CounterVec

	// ToolCallCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolCallDuration *prometheus.HistogramVec

	// CacheCounter counts research cache lookups.
	// Labels: outcome (hit|miss)
	CacheCounter *prometheus.CounterVec

	// ForecastCounter counts completed forecasts.
	// Labels: question_type, status (ok|defaulted|error)
	ForecastCounter *prometheus.CounterVec

	// ForecastDuration measures full forecast runs in seconds.
	// Labels: question_type
	ForecastDuration *prometheus.HistogramVec

	// ForecastCost accumulates model spend in USD.
	ForecastCost prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics with reg. Pass
// prometheus.DefaultRegisterer in production; tests use a private registry
// to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "augur_model_request_duration_seconds",
				Help:    "Model API call latency.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),
		ModelTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "augur_model_tokens_total",
				Help: "Tokens consumed by model calls.",
			},
			[]string{"model", "type"},
		),
		ToolCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "augur_tool_calls_total",
				Help: "Tool invocations by name and status.",
			},
			[]string{"tool_name", "status"},
		),
		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "augur_tool_call_duration_seconds",
				Help:    "Tool execution latency.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		CacheCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "augur_cache_lookups_total",
				Help: "Research cache lookups by outcome.",
			},
			[]string{"outcome"},
		),
		ForecastCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "augur_forecasts_total",
				Help: "Completed forecast runs.",
			},
			[]string{"question_type", "status"},
		),
		ForecastDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "augur_forecast_duration_seconds",
				Help:    "End-to-end forecast run duration.",
				Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
			[]string{"question_type"},
		),
		ForecastCost: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "augur_forecast_cost_usd_total",
				Help: "Cumulative model spend in USD.",
			},
		),
	}
}
