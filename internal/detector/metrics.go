package detector

import "github.com/prometheus/client_golang/prometheus"

var (
	findingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "detector",
		Name:      "findings_total",
		Help:      "Total threshold breaches detected, by rule and severity.",
	}, []string{"type", "severity"})

	alertsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "detector",
		Name:      "alerts_dispatched_total",
		Help:      "Total alerts dispatched, by severity.",
	}, []string{"severity"})

	alertsSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "detector",
		Name:      "alerts_suppressed_total",
		Help:      "Total alerts suppressed by cooldown, by rule.",
	}, []string{"type"})

	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "detector",
		Name:      "deliveries_total",
		Help:      "Total channel delivery attempts by channel and result.",
	}, []string{"channel", "result"})
)

func init() {
	prometheus.MustRegister(
		findingsTotal,
		alertsDispatched,
		alertsSuppressed,
		deliveriesTotal,
	)
}
