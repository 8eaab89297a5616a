package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics counts lifecycle event publications.
type EventMetrics struct {
	published *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking published lifecycle events.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &EventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Lifecycle events handed to the publisher, segmented by topic.",
			}, []string{"topic"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "publish_failures_total",
				Help:      "Lifecycle events at least one publisher failed to deliver.",
			}, []string{"topic"}),
		}
		prometheus.MustRegister(eventRegistry.published, eventRegistry.failures)
	})
	return eventRegistry
}

// RecordPublish counts one publication of topic and whether it failed.
func (m *EventMetrics) RecordPublish(topic string, err error) {
	if m == nil {
		return
	}
	topic = label(strings.TrimPrefix(topic, "mintgate."))
	m.published.WithLabelValues(topic).Inc()
	if err != nil {
		m.failures.WithLabelValues(topic).Inc()
	}
}
