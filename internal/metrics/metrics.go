// Package metrics exposes Prometheus counters for turns, provider calls and
// tool calls.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the collectors on a private registry so several instances can
// coexist in one process (tests, the mcp command).
type Metrics struct {
	reg *prometheus.Registry

	TurnsTotal         *prometheus.CounterVec
	ProviderCallsTotal *prometheus.CounterVec
	ToolCallsTotal     *prometheus.CounterVec
	TurnDuration       prometheus.Histogram
}

// New creates and registers all collectors.
//
// Metrics:
//   - tutorgraph_turns_total{intent,outcome}
//   - tutorgraph_provider_calls_total{provider,result}
//   - tutorgraph_tool_calls_total{tool,result}
//   - tutorgraph_turn_duration_seconds
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		TurnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutorgraph_turns_total",
				Help: "Total number of completed turns",
			},
			[]string{"intent", "outcome"},
		),
		ProviderCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutorgraph_provider_calls_total",
				Help: "Total number of completion provider calls",
			},
			[]string{"provider", "result"},
		),
		ToolCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutorgraph_tool_calls_total",
				Help: "Total number of tool invocations",
			},
			[]string{"tool", "result"},
		),
		TurnDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tutorgraph_turn_duration_seconds",
				Help:    "Duration of a turn from input to persisted answer",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Turn records a finished turn.
func (m *Metrics) Turn(intent, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(intent, outcome).Inc()
	m.TurnDuration.Observe(seconds)
}

// ProviderCall records one completion call.
func (m *Metrics) ProviderCall(provider string, err error) {
	if m == nil {
		return
	}
	m.ProviderCallsTotal.WithLabelValues(provider, result(err == nil)).Inc()
}

// ToolCall records one tool invocation.
func (m *Metrics) ToolCall(tool string, ok bool) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return ResultOK
	}
	return ResultError
}
