// Package metrics exposes Prometheus collectors for chat turns and sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alertbot"

var (
	// turnsActive is a gauge of turns currently streaming.
	turnsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "turns_active",
			Help:      "Number of chat turns currently streaming",
		},
	)

	// turnsTotal counts finished turns by outcome.
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of chat turns by outcome",
		},
		[]string{"outcome"}, // completed, need_more_info, not_eligible, validation_failed, unknown_intent, aborted, error
	)

	// turnDuration is a histogram of wall time per turn, pacing included.
	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Histogram of chat turn duration in seconds",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"outcome"},
	)

	// intentsTotal counts classifications by intent and whether history was reused.
	intentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Total number of classified turns by intent",
		},
		[]string{"intent", "reentry"},
	)

	// sessionsActive is a gauge of live sessions.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live chat sessions",
		},
	)

	// sessionsSweptTotal counts sessions evicted for idleness.
	sessionsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Total number of sessions evicted by the idle sweeper",
		},
	)

	// feedbackTotal counts feedback submissions by status.
	feedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_total",
			Help:      "Total number of feedback submissions",
		},
		[]string{"status"}, // saved, error
	)

	allMetrics = []prometheus.Collector{
		turnsActive,
		turnsTotal,
		turnDuration,
		intentsTotal,
		sessionsActive,
		sessionsSweptTotal,
		feedbackTotal,
	}
)

// NewRegistry returns a registry holding the application and Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordTurnStart marks a turn as streaming.
func RecordTurnStart() {
	turnsActive.Inc()
}

// RecordTurnEnd records a finished turn.
func RecordTurnEnd(outcome string, durationSeconds float64) {
	turnsActive.Dec()
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordIntent records a classification result.
func RecordIntent(intent string, reentry bool) {
	label := "false"
	if reentry {
		label = "true"
	}
	intentsTotal.WithLabelValues(intent, label).Inc()
}

// RecordSweep records how many sessions a sweep evicted and how many remain.
// Its signature matches session.SweepCallback.
func RecordSweep(swept, remaining int) {
	sessionsActive.Set(float64(remaining))
	if swept > 0 {
		sessionsSweptTotal.Add(float64(swept))
	}
}

// RecordSessionCreated bumps the live session gauge.
func RecordSessionCreated() {
	sessionsActive.Inc()
}

// RecordSessionInvalidated records an explicit session removal.
func RecordSessionInvalidated() {
	sessionsActive.Dec()
}

// RecordFeedback records a feedback submission.
func RecordFeedback(status string) {
	feedbackTotal.WithLabelValues(status).Inc()
}
