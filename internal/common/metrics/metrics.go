// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_published_total",
			Help: "Total number of events published to the bus",
		},
		[]string{"event_type"},
	)

	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_dispatched_total",
			Help: "Total number of handler dispatches by outcome",
		},
		[]string{"event_type", "outcome"},
	)

	EventsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_retried_total",
			Help: "Total number of retry deliveries scheduled",
		},
		[]string{"event_type"},
	)

	EventsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_dead_lettered_total",
			Help: "Total number of events moved to the dead-letter queue",
		},
		[]string{"event_type"},
	)

	EventsReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_events_replayed_total",
			Help: "Total number of dead-letter entries replayed by operators",
		},
	)

	GatherDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gather_duration_seconds",
			Help:    "Duration of context fan-out in seconds",
			Buckets: []float64{.01, .025, .05, .1, .15, .2, .3, .5, 1},
		},
	)

	GatherDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gather_degraded_total",
			Help: "Context providers degraded during fan-out, by reason",
		},
		[]string{"provider_id", "reason"},
	)

	BlendPinnedExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blend_pinned_exhausted_total",
			Help: "Blend runs that ended with every provider pinned",
		},
	)

	FallbackAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_attempts_total",
			Help: "Fallback chain attempts by provider and outcome",
		},
		[]string{"provider_id", "outcome"},
	)

	FallbackPromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_promotions_total",
			Help: "Providers promoted back to eligible after cool-down",
		},
		[]string{"provider_id"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "orchestration_request_duration_seconds",
			Help: "End-to-end request duration by terminal state",
		},
		[]string{"state"},
	)

	RequestsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestration_requests_active",
			Help: "Number of requests currently in flight",
		},
	)
)
