package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sparkdMetricsOnce sync.Once
	sparkdRegistry    *SparkdMetrics
)

// SparkdMetrics wraps collectors tracking ledger and chain gateway health.
type SparkdMetrics struct {
	chainCalls   *prometheus.CounterVec
	chainLatency *prometheus.HistogramVec
	operations   *prometheus.CounterVec
	activities   *prometheus.CounterVec
	subscribers  prometheus.Gauge
}

// Sparkd exposes the metrics registry for sparkd.
func Sparkd() *SparkdMetrics {
	sparkdMetricsOnce.Do(func() {
		sparkdRegistry = &SparkdMetrics{
			chainCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "monspark",
				Subsystem: "chain",
				Name:      "calls_total",
				Help:      "Contract reads and writes segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			chainLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "monspark",
				Subsystem: "chain",
				Name:      "call_duration_seconds",
				Help:      "Latency of contract calls including receipt confirmation for writes.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			}, []string{"operation"}),
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "monspark",
				Subsystem: "core",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			activities: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "monspark",
				Subsystem: "activity",
				Name:      "recorded_total",
				Help:      "Activity feed entries recorded segmented by type.",
			}, []string{"type"}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "monspark",
				Subsystem: "activity",
				Name:      "stream_subscribers",
				Help:      "Number of open activity stream connections.",
			}),
		}
		prometheus.MustRegister(
			sparkdRegistry.chainCalls,
			sparkdRegistry.chainLatency,
			sparkdRegistry.operations,
			sparkdRegistry.activities,
			sparkdRegistry.subscribers,
		)
	})
	return sparkdRegistry
}

// ObserveChainCall records the outcome and latency of a contract call.
func (m *SparkdMetrics) ObserveChainCall(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	label := labelOperation(operation)
	m.chainCalls.WithLabelValues(label, outcome(err)).Inc()
	m.chainLatency.WithLabelValues(label).Observe(d.Seconds())
}

// RecordOperation increments the operation counter. reason is used as the
// outcome label for failures and ignored on success.
func (m *SparkdMetrics) RecordOperation(operation, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "success"
	}
	m.operations.WithLabelValues(labelOperation(operation), reason).Inc()
}

// RecordActivity increments the activity counter for the supplied type.
func (m *SparkdMetrics) RecordActivity(kind string) {
	if m == nil {
		return
	}
	m.activities.WithLabelValues(labelOperation(kind)).Inc()
}

// SetSubscribers updates the live stream gauge.
func (m *SparkdMetrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func labelOperation(op string) string {
	trimmed := strings.TrimSpace(op)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}
