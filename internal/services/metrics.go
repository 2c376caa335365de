package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"aria/internal/resilience"
)

// Metrics holds all custom Prometheus metrics for the engine
type Metrics struct {
	// Turn metrics
	TurnsTotal    prometheus.Counter
	TurnLatency   prometheus.Histogram
	DegradedTurns *prometheus.CounterVec

	// Dedup metrics
	DuplicateUpdates prometheus.Counter

	// Dispatch metrics
	DispatchLatency *prometheus.HistogramVec
	DispatchErrors  *prometheus.CounterVec

	// Resilience metrics
	BreakerTransitions *prometheus.CounterVec
	RateLimited        prometheus.Counter

	// Memory metrics
	MemoryWrites  prometheus.Counter
	MemoryRetries prometheus.Counter
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics() *Metrics {
	metrics := &Metrics{
		TurnsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aria_turns_total",
			Help: "Total number of inbound updates processed",
		}),

		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aria_turn_duration_seconds",
			Help:    "End-to-end turn latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}, // turn deadline is 10s
		}),

		DegradedTurns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aria_degraded_turns_total",
			Help: "Turns that fell back to a degraded reply, by reason",
		}, []string{"reason"}), // "deadline", "model_error", "breaker_open", "rate_limited", "empty_reply"

		DuplicateUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aria_duplicate_updates_total",
			Help: "Inbound updates rejected by the deduplicator",
		}),

		DispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aria_dispatch_duration_seconds",
			Help:    "Tool dispatch latency in seconds by tool",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"tool"}),

		DispatchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aria_dispatch_errors_total",
			Help: "Tool dispatch failures by tool",
		}, []string{"tool"}),

		BreakerTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aria_breaker_transitions_total",
			Help: "Circuit breaker state transitions by dependency and new state",
		}, []string{"dependency", "state"}),

		RateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aria_model_calls_rate_limited_total",
			Help: "Generative model calls refused by the per-user token bucket",
		}),

		MemoryWrites: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aria_memory_writes_total",
			Help: "MemoryRecord rows created",
		}),

		MemoryRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aria_memory_write_retries_total",
			Help: "Asynchronous persistence retries in the memory writer",
		}),
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance (nil before InitMetrics)
func GetMetrics() *Metrics {
	return globalMetrics
}

// ObserveBreaker wires a breaker's transitions into the metrics.
func (m *Metrics) ObserveBreaker(b *resilience.Breaker) {
	b.OnTransition(func(name string, _, to resilience.BreakerState) {
		m.BreakerTransitions.WithLabelValues(name, string(to)).Inc()
	})
}
