package event

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	behaviorEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "behave_events_total",
			Help: "Total number of objects a behavior acted on",
		},
		[]string{"behavior", "action"},
	)

	behaviorErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "behave_errors_total",
			Help: "Total number of behavior failures that aborted a statement",
		},
		[]string{"behavior"},
	)

	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "behave_translation_cache_hits_total",
			Help: "Total number of translation cache hits",
		},
	)

	cacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "behave_translation_cache_misses_total",
			Help: "Total number of translation cache misses",
		},
	)
)

func init() {
	prometheus.MustRegister(behaviorEventsTotal)
	prometheus.MustRegister(behaviorErrorsTotal)
	prometheus.MustRegister(cacheHitsTotal)
	prometheus.MustRegister(cacheMissesTotal)
}

// RecordEvent counts one object handled by a behavior.
func RecordEvent(behavior, action string) {
	behaviorEventsTotal.WithLabelValues(behavior, action).Inc()
}

// RecordError counts a behavior failure.
func RecordError(behavior string) {
	behaviorErrorsTotal.WithLabelValues(behavior).Inc()
}

// RecordCacheHit records a translation cache hit.
func RecordCacheHit() {
	cacheHitsTotal.Inc()
}

// RecordCacheMiss records a translation cache miss.
func RecordCacheMiss() {
	cacheMissesTotal.Inc()
}
