package scheduler

import "time"

// Health classification thresholds.
const (
	healthyRate = 0.95
	warningRate = 0.80

	// recentFailureWindow disqualifies "healthy" when a terminal failure
	// happened inside it.
	recentFailureWindow = 48 * time.Hour
)

// HealthStatus is the coarse scheduler health classification.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// Health summarizes recent execution outcomes.
type Health struct {
	Status           HealthStatus `json:"status"`
	SuccessRate      float64      `json:"successRate"`
	TotalExecutions  int          `json:"totalExecutions"`
	ActiveExecutions int          `json:"activeExecutions"`
	LastExecutionAt  *time.Time   `json:"lastExecutionAt,omitempty"`
	LastFailureAt    *time.Time   `json:"lastFailureAt,omitempty"`
}

// ComputeHealth classifies recent executions: healthy needs a 95% success
// rate and no terminal failure in the last two days, warning needs 80%,
// anything worse is critical. No history at all reads as healthy.
func ComputeHealth(recent []*Execution, now time.Time) *Health {
	h := &Health{Status: HealthHealthy, SuccessRate: 1.0}

	var completed, failed int
	for _, e := range recent {
		if e.Active() {
			h.ActiveExecutions++
		}
		if e.CompletedAt != nil {
			if h.LastExecutionAt == nil || e.CompletedAt.After(*h.LastExecutionAt) {
				h.LastExecutionAt = e.CompletedAt
			}
		}
		switch e.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
			if e.CompletedAt != nil && (h.LastFailureAt == nil || e.CompletedAt.After(*h.LastFailureAt)) {
				h.LastFailureAt = e.CompletedAt
			}
		}
	}

	terminal := completed + failed
	h.TotalExecutions = terminal
	if terminal > 0 {
		h.SuccessRate = float64(completed) / float64(terminal)
	}

	recentFailure := h.LastFailureAt != nil && now.Sub(*h.LastFailureAt) < recentFailureWindow

	switch {
	case h.SuccessRate >= healthyRate && !recentFailure:
		h.Status = HealthHealthy
	case h.SuccessRate >= warningRate:
		h.Status = HealthWarning
	default:
		h.Status = HealthCritical
	}
	return h
}
