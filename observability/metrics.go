package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mintgate"

var (
	networkMetricsOnce sync.Once
	networkRegistry    *NetworkMetrics

	lifecycleMetricsOnce sync.Once
	lifecycleRegistry    *LifecycleMetrics

	shardMetricsOnce sync.Once
	shardRegistry    *ShardMetrics
)

// NetworkMetrics tracks requests against signing network nodes.
type NetworkMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	consensus *prometheus.CounterVec
}

// Network returns the lazily-initialised network metrics registry.
func Network() *NetworkMetrics {
	networkMetricsOnce.Do(func() {
		networkRegistry = &NetworkMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "network",
				Name:      "requests_total",
				Help:      "JSON-RPC requests sent to network nodes segmented by node, method and outcome.",
			}, []string{"node", "method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "network",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution of JSON-RPC requests per method.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			consensus: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "network",
				Name:      "consensus_failures_total",
				Help:      "Fan-out requests for which no node produced a usable response.",
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			networkRegistry.requests,
			networkRegistry.latency,
			networkRegistry.consensus,
		)
	})
	return networkRegistry
}

// ObserveRequest records one attempt against a node.
func (m *NetworkMetrics) ObserveRequest(node, method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(label(node), label(method), outcome).Inc()
	m.latency.WithLabelValues(label(method)).Observe(d.Seconds())
}

// RecordConsensusFailure increments the failure counter for method.
func (m *NetworkMetrics) RecordConsensusFailure(method string) {
	if m == nil {
		return
	}
	m.consensus.WithLabelValues(label(method)).Inc()
}

// LifecycleMetrics tracks session and deposit state machines.
type LifecycleMetrics struct {
	sessions    *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	errors      *prometheus.CounterVec
	signLatency *prometheus.HistogramVec
}

// Lifecycle returns the lazily-initialised state machine metrics registry.
func Lifecycle() *LifecycleMetrics {
	lifecycleMetricsOnce.Do(func() {
		lifecycleRegistry = &LifecycleMetrics{
			sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sessions",
				Name:      "active",
				Help:      "Running gateway sessions per asset.",
			}, []string{"asset"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deposits",
				Name:      "transitions_total",
				Help:      "Deposit state transitions segmented by asset and target state.",
			}, []string{"asset", "state"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deposits",
				Name:      "errors_total",
				Help:      "Deposit failures segmented by asset and stage.",
			}, []string{"asset", "stage"}),
			signLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "deposits",
				Name:      "sign_duration_seconds",
				Help:      "Time from network submission to an accepted signature.",
				Buckets:   []float64{15, 30, 60, 120, 300, 600, 1200, 3600},
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			lifecycleRegistry.sessions,
			lifecycleRegistry.transitions,
			lifecycleRegistry.errors,
			lifecycleRegistry.signLatency,
		)
	})
	return lifecycleRegistry
}

// SessionStarted increments the active session gauge.
func (m *LifecycleMetrics) SessionStarted(asset string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(labelAsset(asset)).Inc()
}

// SessionStopped decrements the active session gauge.
func (m *LifecycleMetrics) SessionStopped(asset string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(labelAsset(asset)).Dec()
}

// RecordTransition counts a deposit entering state.
func (m *LifecycleMetrics) RecordTransition(asset, state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(labelAsset(asset), label(state)).Inc()
}

// RecordError counts a deposit failure at stage.
func (m *LifecycleMetrics) RecordError(asset, stage string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(labelAsset(asset), label(stage)).Inc()
}

// ObserveSignLatency records how long signing took.
func (m *LifecycleMetrics) ObserveSignLatency(asset string, d time.Duration) {
	if m == nil {
		return
	}
	m.signLatency.WithLabelValues(labelAsset(asset)).Observe(d.Seconds())
}

// ShardMetrics tracks shard selection.
type ShardMetrics struct {
	selections    *prometheus.CounterVec
	priceFallback *prometheus.CounterVec
}

// Shards returns the lazily-initialised shard selection registry.
func Shards() *ShardMetrics {
	shardMetricsOnce.Do(func() {
		shardRegistry = &ShardMetrics{
			selections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "shards",
				Name:      "selections_total",
				Help:      "Shard selections per asset and outcome.",
			}, []string{"asset", "outcome"}),
			priceFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "shards",
				Name:      "price_fallback_total",
				Help:      "Selections that ranked shards without prices because the price lookup failed.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(shardRegistry.selections, shardRegistry.priceFallback)
	})
	return shardRegistry
}

// RecordSelection counts a selection attempt.
func (m *ShardMetrics) RecordSelection(asset string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.selections.WithLabelValues(labelAsset(asset), outcome).Inc()
}

// RecordPriceFallback counts a selection made with zero prices.
func (m *ShardMetrics) RecordPriceFallback(asset string) {
	if m == nil {
		return
	}
	m.priceFallback.WithLabelValues(labelAsset(asset)).Inc()
}

func label(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return "unknown"
	}
	return v
}

func labelAsset(asset string) string {
	return label(strings.ToUpper(asset))
}
