// Package scheduler drives reconciliation runs on fixed cadences and on
// demand, tracking each execution through a retry-aware state machine.
package scheduler

import "time"

// ExecutionType records what triggered an execution.
type ExecutionType string

const (
	TypeDailyAuto ExecutionType = "daily_auto"
	TypeManual    ExecutionType = "manual"
	TypeRetry     ExecutionType = "retry"
	TypeEmergency ExecutionType = "emergency"
)

// ExecutionStatus is the execution state machine:
// scheduled -> running -> completed | retrying -> running (loop) | failed.
type ExecutionStatus string

const (
	StatusScheduled ExecutionStatus = "scheduled"
	StatusRunning   ExecutionStatus = "running"
	StatusRetrying  ExecutionStatus = "retrying"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// Step is a timestamped stage marker appended as the run progresses.
type Step struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

// Execution is one tracked run of the reconciliation pipeline.
type Execution struct {
	ID          string          `json:"id"`
	Type        ExecutionType   `json:"type"`
	TargetDate  string          `json:"targetDate"` // YYYY-MM-DD
	Status      ExecutionStatus `json:"status"`
	CurrentStep string          `json:"currentStep,omitempty"`
	Steps       []Step          `json:"steps,omitempty"`
	RetryCount  int             `json:"retryCount"`
	Force       bool            `json:"force"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Result      string          `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Active reports whether the execution may still transition.
func (e *Execution) Active() bool {
	switch e.Status {
	case StatusScheduled, StatusRunning, StatusRetrying:
		return true
	default:
		return false
	}
}

// Terminal reports whether the execution reached a final state.
func (e *Execution) Terminal() bool { return !e.Active() }
