package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes pipeline counters and timings.
type Metrics struct {
	submissions     *prometheus.CounterVec
	functionLatency prometheus.Histogram
	mergeConflicts  prometheus.Counter
	publishFailures prometheus.Counter
}

// NewMetrics registers pipeline metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "playmesh",
			Subsystem: "pipeline",
			Name:      "submissions_total",
			Help:      "Action submissions by terminal status and reject reason.",
		}, []string{"status", "reason"}),
		functionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "playmesh",
			Subsystem: "pipeline",
			Name:      "function_call_seconds",
			Help:      "Latency of rule-evaluation boundary calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		mergeConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "playmesh",
			Subsystem: "pipeline",
			Name:      "merge_conflicts_total",
			Help:      "State merges lost to concurrent session expiry or removal.",
		}),
		publishFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "playmesh",
			Subsystem: "pipeline",
			Name:      "publish_failures_total",
			Help:      "Attribute update events that exhausted the publish retry budget.",
		}),
	}
}

func (m *Metrics) observeOutcome(o *Outcome) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(string(o.Status), string(o.Reason)).Inc()
}

func (m *Metrics) observeFunctionLatency(seconds float64) {
	if m == nil {
		return
	}
	m.functionLatency.Observe(seconds)
}

func (m *Metrics) observeMergeConflict() {
	if m == nil {
		return
	}
	m.mergeConflicts.Inc()
}

func (m *Metrics) observePublishFailure() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}
