package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	TransitionsTotal     *prometheus.CounterVec
	TransitionDurationMs prometheus.Histogram
	FraudEventsTotal     prometheus.Counter
	FraudAlertsTotal     prometheus.Counter
	PublishFailuresTotal prometheus.Counter
	EventsConsumedTotal  prometheus.Counter
	EventsDeadTotal      prometheus.Counter
	FenceCacheHitsTotal  prometheus.Counter
	FenceCacheMissTotal  prometheus.Counter
	RequestDurationMs    *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perimeter_transitions_total",
			Help: "Transitions detected, labelled by type (none, enter, exit, switch)",
		}, []string{"type"}),
		TransitionDurationMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perimeter_transition_duration_ms",
			Help:    "Latency of location sample processing in milliseconds",
			Buckets: []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500},
		}),
		FraudEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perimeter_fraud_events_total",
			Help: "Fingerprint mismatches recorded in the fraud ledger",
		}),
		FraudAlertsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perimeter_fraud_alerts_total",
			Help: "Fraud notifier invocations (deduplicated mismatches excluded)",
		}),
		PublishFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perimeter_publish_failures_total",
			Help: "Best-effort queue/broadcast publishes that failed after commit",
		}),
		EventsConsumedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perimeter_events_consumed_total",
			Help: "Transition events popped and reconciled by the worker",
		}),
		EventsDeadTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perimeter_events_dead_total",
			Help: "Transition events routed to the dead-letter list",
		}),
		FenceCacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perimeter_fence_cache_hits_total",
			Help: "Fence cache reads served without a store round-trip",
		}),
		FenceCacheMissTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perimeter_fence_cache_miss_total",
			Help: "Fence cache reads that fell through to the store",
		}),
		RequestDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perimeter_http_request_duration_ms",
			Help:    "HTTP request latency in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"route", "status"}),
	}
}

// ObserveTransition records one processed sample and its outcome. Safe on a
// nil receiver so tests can run without touching the global registry.
func (m *Metrics) ObserveTransition(eventType string, d time.Duration) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(eventType).Inc()
	m.TransitionDurationMs.Observe(float64(d.Microseconds()) / 1000.0)
}
