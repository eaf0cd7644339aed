package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "handover"

// Registry holds every handover collector. It is separate from the global
// default registry so tests can scrape it in isolation.
var Registry = prometheus.NewRegistry()

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Count of handover decisions by outcome.",
		},
		[]string{"outcome"},
	)
	decisionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_latency_seconds",
			Help:      "End-to-end latency of make-handover-decision calls.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	decisionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_errors_total",
			Help:      "Count of failed handover decisions by event type.",
		},
		[]string{"event_type"},
	)
	algorithmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "algorithm_execution_seconds",
			Help:      "Execution time of handovers grouped by the decision algorithm that chose them.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"algorithm"},
	)
	strategyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "strategy_duration_seconds",
			Help:      "Latency of candidate strategy evaluation.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"strategy", "outcome"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Latency of decision pipeline stages.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage", "outcome"},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Count of decision executions by terminal status.",
		},
		[]string{"status"},
	)
	executionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_active",
			Help:      "Executions currently holding a concurrency slot.",
		},
	)
	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Single-flight sessions currently running, by key.",
		},
		[]string{"key"},
	)
	notificationsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Visualization notifications that failed to deliver.",
		},
		[]string{"type"},
	)
)

var registerMetrics sync.Once

// Register adds all handover collectors plus process and Go runtime
// collectors to Registry.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(
			decisionsTotal,
			decisionLatency,
			decisionErrors,
			algorithmLatency,
			strategyDuration,
			stageDuration,
			executionsTotal,
			executionsActive,
			sessionsActive,
			notificationsDropped,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordDecision records the outcome and latency of one orchestrated decision.
func RecordDecision(success bool, latency time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	decisionsTotal.WithLabelValues(outcome).Inc()
	decisionLatency.Observe(latency.Seconds())
}

// RecordDecisionError counts a failed decision for the given event type.
func RecordDecisionError(eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	decisionErrors.WithLabelValues(eventType).Inc()
}

// RecordAlgorithmLatency records execution time attributed to a decision algorithm.
func RecordAlgorithmLatency(algorithm string, seconds float64) {
	algorithmLatency.WithLabelValues(algorithm).Observe(seconds)
}

// RecordStrategy records the latency of a single strategy run.
func RecordStrategy(strategy string, ok bool, d time.Duration) {
	strategyDuration.WithLabelValues(strategy, outcomeLabel(ok)).Observe(d.Seconds())
}

// RecordStage records the latency of one pipeline stage, retries included.
func RecordStage(stage string, ok bool, d time.Duration) {
	stageDuration.WithLabelValues(stage, outcomeLabel(ok)).Observe(d.Seconds())
}

// RecordExecution counts an execution by its terminal status.
func RecordExecution(status string) {
	executionsTotal.WithLabelValues(status).Inc()
}

// SetActiveExecutions publishes the number of occupied executor slots.
func SetActiveExecutions(n int) {
	executionsActive.Set(float64(n))
}

// SessionStarted and SessionFinished track active sessions per key.
func SessionStarted(key string) {
	sessionsActive.WithLabelValues(key).Inc()
}

func SessionFinished(key string) {
	sessionsActive.WithLabelValues(key).Dec()
}

// RecordNotificationDropped counts a visualization notification that failed.
func RecordNotificationDropped(notificationType string) {
	notificationsDropped.WithLabelValues(notificationType).Inc()
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
