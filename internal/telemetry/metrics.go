package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for turnkit.
type Metrics struct {
	TransportAttempts   *prometheus.CounterVec
	CompatDegradations  *prometheus.CounterVec
	ToolCalls           *prometheus.CounterVec
	TurnOutcomes        *prometheus.CounterVec
	ForcedContinuations prometheus.Counter
	TurnDuration        prometheus.Histogram
	RateLimitRemaining  *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TransportAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "turnkit_transport_attempts_total",
			Help: "Requests sent to the remote model service.",
		}, []string{"model", "mode", "status"}),

		CompatDegradations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "turnkit_compat_degradations_total",
			Help: "Request fields degraded after the remote rejected them.",
		}, []string{"model", "family"}),

		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "turnkit_tool_calls_total",
			Help: "Tool calls executed, by tool and result.",
		}, []string{"tool", "ok"}),

		TurnOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "turnkit_turn_outcomes_total",
			Help: "Finished turns by outcome.",
		}, []string{"outcome"}),

		ForcedContinuations: f.NewCounter(prometheus.CounterOpts{
			Name: "turnkit_forced_continuations_total",
			Help: "Extra rounds forced because the model stopped early.",
		}),

		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "turnkit_turn_duration_seconds",
			Help:    "Wall time of a turn.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),

		RateLimitRemaining: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "turnkit_ratelimit_remaining",
			Help: "Remaining requests/tokens reported by the remote service.",
		}, []string{"kind"}),
	}
}

// MetricsSink turns events into metric updates.
type MetricsSink struct {
	Metrics *Metrics
}

func (s MetricsSink) Emit(_ context.Context, evt Event) {
	m := s.Metrics
	if m == nil {
		return
	}
	switch evt.Name {
	case EventTransportAttempt:
		m.TransportAttempts.WithLabelValues(attr(evt, "model"), attr(evt, "mode"), attr(evt, "status")).Inc()
	case EventCompatDegraded:
		m.CompatDegradations.WithLabelValues(attr(evt, "model"), attr(evt, "family")).Inc()
	case EventToolResult:
		m.ToolCalls.WithLabelValues(attr(evt, "tool"), attr(evt, "ok")).Inc()
	case EventForcedRetry:
		m.ForcedContinuations.Inc()
	case EventOutcome:
		m.TurnOutcomes.WithLabelValues(attr(evt, "outcome")).Inc()
		if d, ok := evt.Attrs["duration_seconds"].(float64); ok {
			m.TurnDuration.Observe(d)
		}
	case EventRateLimit:
		for _, kind := range []string{"requests", "tokens"} {
			if v, ok := evt.Attrs[kind].(int64); ok {
				m.RateLimitRemaining.WithLabelValues(kind).Set(float64(v))
			}
		}
	}
}

func attr(evt Event, key string) string {
	v, ok := evt.Attrs[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
