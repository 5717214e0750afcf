package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/paymentops/reconciler/internal/detector"
	"github.com/paymentops/reconciler/internal/idgen"
	"github.com/paymentops/reconciler/internal/logging"
	"github.com/paymentops/reconciler/internal/recon"
	"github.com/paymentops/reconciler/internal/traces"
)

// Runner executes the reconciliation pipeline for a date.
type Runner interface {
	ReconcileAll(ctx context.Context, date time.Time, force bool) (*recon.CombinedOutcome, error)
}

// FindingSource evaluates threshold rules against a combined outcome.
type FindingSource interface {
	DetectCombined(ctx context.Context, c *recon.CombinedOutcome) []detector.Finding
}

// AlertSink dispatches findings. detector.Router satisfies it.
type AlertSink interface {
	Route(ctx context.Context, findings []detector.Finding) []*detector.Alert
}

// Notifier receives execution transitions for live feeds. Optional.
type Notifier interface {
	ExecutionUpdated(e *Execution)
}

// Pipeline stage markers.
const (
	stepDataCollection = "data_collection"
	stepReconciliation = "reconciliation"
	stepDetection      = "detection"
	stepReportDispatch = "report_dispatch"
)

// Controller owns the execution state machine: it runs submissions on a
// fixed-size worker pool and resubmits failures after a delay instead of
// sleeping inside a worker.
type Controller struct {
	runner   Runner
	findings FindingSource
	alerts   AlertSink
	store    ExecutionStore

	workers    chan struct{}
	maxRetries int
	retryDelay time.Duration
	notifier   Notifier

	ctx  context.Context
	stop context.CancelFunc
	now  func() time.Time
}

// NewController creates a schedule/retry controller.
func NewController(runner Runner, findings FindingSource, alerts AlertSink, store ExecutionStore, workers, maxRetries int, retryDelay time.Duration) *Controller {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		runner:     runner,
		findings:   findings,
		alerts:     alerts,
		store:      store,
		workers:    make(chan struct{}, workers),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		ctx:        ctx,
		stop:       cancel,
		now:        time.Now,
	}
}

// SetNotifier attaches a live-feed notifier.
func (c *Controller) SetNotifier(n Notifier) { c.notifier = n }

// Stop cancels the controller's background work. In-flight executions
// observe the cancellation through their context.
func (c *Controller) Stop() { c.stop() }

// Submit registers an execution for the date and runs it asynchronously,
// returning the scheduled execution immediately.
func (c *Controller) Submit(ctx context.Context, execType ExecutionType, date time.Time, force bool) (*Execution, error) {
	exec := &Execution{
		ID:         idgen.WithPrefix("exec_"),
		Type:       execType,
		TargetDate: recon.DateKey(date),
		Status:     StatusScheduled,
		Force:      force,
		CreatedAt:  c.now(),
	}
	if err := c.store.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	executionsSubmitted.WithLabelValues(string(execType)).Inc()
	c.notify(exec)
	c.dispatch(exec)

	// Opportunistic retention sweep.
	go func() {
		_ = c.store.Prune(c.ctx, c.now().AddDate(0, 0, -retentionDays))
	}()

	return copyExecution(exec), nil
}

// Execution returns one execution by id.
func (c *Controller) Execution(ctx context.Context, id string) (*Execution, error) {
	return c.store.Get(ctx, id)
}

// History returns executions from the last given days, newest first.
func (c *Controller) History(ctx context.Context, days int) ([]*Execution, error) {
	return c.store.Recent(ctx, days)
}

// Running returns executions that have not reached a terminal state.
func (c *Controller) Running(ctx context.Context) ([]*Execution, error) {
	return c.store.Running(ctx)
}

// Health summarizes recent execution success into a coarse status.
func (c *Controller) Health(ctx context.Context) (*Health, error) {
	recent, err := c.store.Recent(ctx, retentionDays)
	if err != nil {
		return nil, fmt.Errorf("load recent executions: %w", err)
	}
	return ComputeHealth(recent, c.now()), nil
}

// dispatch hands the execution to the worker pool without blocking the
// caller.
func (c *Controller) dispatch(exec *Execution) {
	go func() {
		select {
		case c.workers <- struct{}{}:
		case <-c.ctx.Done():
			return
		}
		defer func() { <-c.workers }()
		c.run(exec)
	}()
}

// run drives one attempt through the pipeline stages.
func (c *Controller) run(exec *Execution) {
	ctx, span := traces.StartSpan(c.ctx, "scheduler.run",
		traces.ExecutionID(exec.ID),
		traces.Date(exec.TargetDate),
		traces.Trigger(string(exec.Type)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			c.handleFailure(ctx, exec, fmt.Errorf("panic: %v", r))
		}
	}()

	started := c.now()
	exec.Status = StatusRunning
	exec.StartedAt = &started
	c.mark(ctx, exec, stepDataCollection)

	date, err := time.Parse("2006-01-02", exec.TargetDate)
	if err != nil {
		c.handleFailure(ctx, exec, fmt.Errorf("bad target date %q: %w", exec.TargetDate, err))
		return
	}

	combined, err := c.runner.ReconcileAll(ctx, date, exec.Force)
	if err != nil {
		c.handleFailure(ctx, exec, err)
		return
	}
	c.mark(ctx, exec, stepReconciliation)

	c.mark(ctx, exec, stepDetection)
	var dispatched int
	if c.findings != nil && c.alerts != nil {
		found := c.findings.DetectCombined(ctx, combined)
		dispatched = len(c.alerts.Route(ctx, found))
	}
	c.mark(ctx, exec, stepReportDispatch)

	completed := c.now()
	exec.Status = StatusCompleted
	exec.CompletedAt = &completed
	exec.CurrentStep = ""
	exec.Result = fmt.Sprintf("status=%s matching_rate=%.4f platforms=%d alerts=%d",
		combined.OverallStatus, combined.OverallMatchingRate, len(combined.Outcomes), dispatched)
	c.persist(ctx, exec)

	executionsFinished.WithLabelValues(string(exec.Type), string(StatusCompleted)).Inc()
	executionDuration.Observe(completed.Sub(started).Seconds())
	logging.L(ctx).Info("execution completed",
		"execution_id", exec.ID, "date", exec.TargetDate, "result", exec.Result)
}

// handleFailure applies the retry policy: resubmit after a delay while
// retries remain, otherwise fail terminally and raise a critical alert.
func (c *Controller) handleFailure(ctx context.Context, exec *Execution, cause error) {
	exec.Error = cause.Error()

	if exec.RetryCount < c.maxRetries {
		exec.RetryCount++
		exec.Status = StatusRetrying
		c.persist(ctx, exec)
		retriesTotal.Inc()

		logging.L(ctx).Warn("execution failed, retry scheduled",
			"execution_id", exec.ID,
			"date", exec.TargetDate,
			"attempt", exec.RetryCount,
			"delay", c.retryDelay,
			"error", cause,
		)

		// Delayed resubmission keeps the worker pool free during the wait.
		time.AfterFunc(c.retryDelay, func() {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			exec.Type = TypeRetry
			c.dispatch(exec)
		})
		return
	}

	completed := c.now()
	exec.Status = StatusFailed
	exec.CompletedAt = &completed
	exec.CurrentStep = ""
	c.persist(ctx, exec)

	executionsFinished.WithLabelValues(string(exec.Type), string(StatusFailed)).Inc()
	logging.L(ctx).Error("execution failed terminally",
		"execution_id", exec.ID, "date", exec.TargetDate, "retries", exec.RetryCount, "error", cause)

	if c.alerts != nil {
		c.alerts.Route(ctx, []detector.Finding{
			detector.ExecutionFailureFinding(exec.ID, exec.TargetDate, exec.RetryCount, cause),
		})
	}
}

func (c *Controller) mark(ctx context.Context, exec *Execution, step string) {
	exec.CurrentStep = step
	exec.Steps = append(exec.Steps, Step{Name: step, At: c.now()})
	c.persist(ctx, exec)
}

func (c *Controller) persist(ctx context.Context, exec *Execution) {
	if err := c.store.Update(ctx, exec); err != nil {
		logging.L(ctx).Warn("failed to persist execution state",
			"execution_id", exec.ID, "status", exec.Status, "error", err)
	}
	c.notify(exec)
}

func (c *Controller) notify(exec *Execution) {
	if c.notifier != nil {
		c.notifier.ExecutionUpdated(copyExecution(exec))
	}
}
