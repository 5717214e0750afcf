package recon

import "github.com/prometheus/client_golang/prometheus"

var (
	reconRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "recon",
		Name:      "runs_total",
		Help:      "Total reconciliation runs by platform and final status.",
	}, []string{"platform", "status"})

	reconMatchingRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "reconciler",
		Subsystem: "recon",
		Name:      "matching_rate",
		Help:      "Matching rate of the most recent run per platform.",
	}, []string{"platform"})

	reconDiscrepanciesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "recon",
		Name:      "discrepancies_total",
		Help:      "Total discrepancies found by type.",
	}, []string{"type"})

	reconRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reconciler",
		Subsystem: "recon",
		Name:      "run_duration_seconds",
		Help:      "Duration of per-platform reconciliation runs in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconCollectionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciler",
		Subsystem: "recon",
		Name:      "collection_errors_total",
		Help:      "Total data collection failures by platform.",
	}, []string{"platform"})
)

func init() {
	prometheus.MustRegister(
		reconRunsTotal,
		reconMatchingRate,
		reconDiscrepanciesTotal,
		reconRunDuration,
		reconCollectionErrors,
	)
}

func observeOutcome(o *Outcome, elapsedSeconds float64) {
	reconRunsTotal.WithLabelValues(o.Platform, string(o.Status)).Inc()
	reconMatchingRate.WithLabelValues(o.Platform).Set(o.MatchingRate)
	reconRunDuration.Observe(elapsedSeconds)
	for _, d := range o.Discrepancies {
		reconDiscrepanciesTotal.WithLabelValues(string(d.Type)).Inc()
	}
	for _, r := range o.Resolved {
		reconDiscrepanciesTotal.WithLabelValues(string(r.Type)).Inc()
	}
}
