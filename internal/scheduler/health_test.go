package scheduler

import (
	"testing"
	"time"
)

func terminalExec(status ExecutionStatus, completedAt time.Time) *Execution {
	return &Execution{
		ID:          "exec_test",
		Type:        TypeDailyAuto,
		Status:      status,
		CompletedAt: &completedAt,
	}
}

func TestComputeHealth(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	old := now.Add(-72 * time.Hour)

	build := func(completed, failed int, failedAt time.Time) []*Execution {
		var recent []*Execution
		for i := 0; i < completed; i++ {
			recent = append(recent, terminalExec(StatusCompleted, now.Add(-time.Hour)))
		}
		for i := 0; i < failed; i++ {
			recent = append(recent, terminalExec(StatusFailed, failedAt))
		}
		return recent
	}

	tests := []struct {
		name     string
		recent   []*Execution
		want     HealthStatus
		wantRate float64
	}{
		{"no history", nil, HealthHealthy, 1.0},
		{"all succeeded", build(20, 0, time.Time{}), HealthHealthy, 1.0},
		{"one old failure out of twenty", build(19, 1, old), HealthHealthy, 0.95},
		{"recent failure disqualifies healthy", build(19, 1, now.Add(-time.Hour)), HealthWarning, 0.95},
		{"warning band", build(17, 3, old), HealthWarning, 0.85},
		{"critical", build(3, 2, old), HealthCritical, 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := ComputeHealth(tt.recent, now)
			if h.Status != tt.want {
				t.Errorf("status = %s, want %s", h.Status, tt.want)
			}
			if h.SuccessRate != tt.wantRate {
				t.Errorf("successRate = %v, want %v", h.SuccessRate, tt.wantRate)
			}
		})
	}
}

func TestComputeHealth_ActiveAndTimestamps(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	doneAt := now.Add(-2 * time.Hour)
	failAt := now.Add(-30 * time.Hour)

	recent := []*Execution{
		{ID: "exec_a", Status: StatusRunning},
		{ID: "exec_b", Status: StatusRetrying},
		terminalExec(StatusCompleted, doneAt),
		terminalExec(StatusFailed, failAt),
	}

	h := ComputeHealth(recent, now)
	if h.ActiveExecutions != 2 {
		t.Errorf("activeExecutions = %d, want 2", h.ActiveExecutions)
	}
	if h.TotalExecutions != 2 {
		t.Errorf("totalExecutions = %d, want 2", h.TotalExecutions)
	}
	if h.LastExecutionAt == nil || !h.LastExecutionAt.Equal(doneAt) {
		t.Errorf("lastExecutionAt = %v, want %v", h.LastExecutionAt, doneAt)
	}
	if h.LastFailureAt == nil || !h.LastFailureAt.Equal(failAt) {
		t.Errorf("lastFailureAt = %v, want %v", h.LastFailureAt, failAt)
	}
}
