package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	executionsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "scheduler",
		Name:      "executions_submitted_total",
		Help:      "Total executions submitted by trigger type.",
	}, []string{"type"})

	executionsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "scheduler",
		Name:      "executions_finished_total",
		Help:      "Total executions reaching a terminal state, by type and status.",
	}, []string{"type", "status"})

	retriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "scheduler",
		Name:      "retries_total",
		Help:      "Total retry resubmissions scheduled.",
	})

	executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reconciler",
		Subsystem: "scheduler",
		Name:      "execution_duration_seconds",
		Help:      "Wall time of completed executions in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})
)

func init() {
	prometheus.MustRegister(
		executionsSubmitted,
		executionsFinished,
		retriesTotal,
		executionDuration,
	)
}
