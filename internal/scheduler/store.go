package scheduler

import (
	"context"
	"errors"
	"time"
)

// ErrExecutionNotFound is returned for unknown execution ids.
var ErrExecutionNotFound = errors.New("execution not found")

// retentionDays bounds how long execution logs are kept.
const retentionDays = 30

// ExecutionStore persists execution logs within a rolling retention window.
type ExecutionStore interface {
	Create(ctx context.Context, e *Execution) error
	Update(ctx context.Context, e *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	// Recent returns executions created within the last given days,
	// newest first.
	Recent(ctx context.Context, days int) ([]*Execution, error)
	// Running returns executions that have not reached a terminal state.
	Running(ctx context.Context) ([]*Execution, error)
	// Prune drops executions created before the cutoff.
	Prune(ctx context.Context, cutoff time.Time) error
}
