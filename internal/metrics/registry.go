// Package metrics provides Prometheus metrics for obslink.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics for the service.
type Registry struct {
	// Connection metrics
	StateTransitions    *prometheus.CounterVec
	ReadySessions       prometheus.Gauge
	ReconnectsScheduled *prometheus.CounterVec

	// Polling metrics
	PollCycles   prometheus.Counter
	PollErrors   prometheus.Counter
	PollDuration prometheus.Histogram

	// Aggregate status
	RecordingActive prometheus.Gauge
	StreamingActive prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics registered on
// the default gatherer.
func NewRegistry() *Registry {
	return &Registry{
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "obslink",
			Subsystem: "connection",
			Name:      "state_transitions_total",
			Help:      "State machine transitions per connection and target state",
		}, []string{"connection", "state"}),
		ReadySessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "obslink",
			Subsystem: "connection",
			Name:      "ready_sessions",
			Help:      "Number of sessions currently eligible for polling",
		}),
		ReconnectsScheduled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "obslink",
			Subsystem: "connection",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnection attempts scheduled per connection",
		}, []string{"connection"}),

		PollCycles: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "obslink",
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Completed status poll cycles",
		}),
		PollErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "obslink",
			Subsystem: "poller",
			Name:      "errors_total",
			Help:      "Failed status requests",
		}),
		PollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "obslink",
			Subsystem: "poller",
			Name:      "cycle_duration_seconds",
			Help:      "Status poll cycle duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		RecordingActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "obslink",
			Subsystem: "status",
			Name:      "recording_active",
			Help:      "1 if any managed instance is recording",
		}),
		StreamingActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "obslink",
			Subsystem: "status",
			Name:      "streaming_active",
			Help:      "1 if any managed instance is streaming",
		}),
	}
}
