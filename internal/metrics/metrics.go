// Package metrics exposes Prometheus instrumentation for the detection
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detect_events_consumed_total",
		Help: "Total number of messages received from the event stream.",
	})

	EventsMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detect_events_malformed_total",
		Help: "Total number of messages that could not be decoded.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detect_events_dropped_total",
		Help: "Total number of events dropped for missing tenant attribution.",
	})

	RuleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detect_rule_failures_total",
		Help: "Total number of isolated rule evaluation failures, by rule.",
	}, []string{"rule"})

	AlertsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detect_alerts_generated_total",
		Help: "Total number of alerts generated, by rule.",
	}, []string{"rule"})

	AlertsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detect_alerts_published_total",
		Help: "Total number of alerts handed to the alert sink.",
	})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detect_publish_failures_total",
		Help: "Total number of failed alert publishes.",
	})

	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "detect_event_processing_seconds",
		Help:    "Per-message processing latency through the engine.",
		Buckets: prometheus.DefBuckets,
	})
)
