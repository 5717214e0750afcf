package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paymentops/reconciler/internal/detector"
	"github.com/paymentops/reconciler/internal/recon"
)

// stubRunner fails a configured number of attempts before succeeding.
type stubRunner struct {
	failures atomic.Int64
	calls    atomic.Int64
}

func (r *stubRunner) ReconcileAll(ctx context.Context, date time.Time, force bool) (*recon.CombinedOutcome, error) {
	r.calls.Add(1)
	if r.failures.Load() > 0 {
		r.failures.Add(-1)
		return nil, errors.New("settlement provider unreachable")
	}
	return &recon.CombinedOutcome{
		Date:          recon.DateKey(date),
		Outcomes:      map[string]*recon.Outcome{"app_store": {Platform: "app_store", Status: recon.StatusMatched, MatchingRate: 1.0}},
		OverallStatus: recon.StatusMatched,
	}, nil
}

// stubAlerts captures routed findings.
type stubAlerts struct {
	mu       sync.Mutex
	findings []detector.Finding
}

func (a *stubAlerts) Route(ctx context.Context, findings []detector.Finding) []*detector.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.findings = append(a.findings, findings...)
	alerts := make([]*detector.Alert, len(findings))
	for i := range alerts {
		alerts[i] = &detector.Alert{}
	}
	return alerts
}

func (a *stubAlerts) routed() []detector.Finding {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]detector.Finding(nil), a.findings...)
}

func newTestController(runner *stubRunner, alerts *stubAlerts) (*Controller, *MemoryStore) {
	store := NewMemoryStore()
	c := NewController(runner, nil, alerts, store, 2, 3, 5*time.Millisecond)
	return c, store
}

// waitTerminal polls until the execution reaches a terminal state.
func waitTerminal(t *testing.T, store ExecutionStore, id string) *Execution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		e, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get execution: %v", err)
		}
		if e.Terminal() {
			return e
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("execution did not reach a terminal state in time")
	return nil
}

func TestController_SubmitReturnsImmediately(t *testing.T) {
	runner := &stubRunner{}
	c, store := newTestController(runner, &stubAlerts{})
	defer c.Stop()

	exec, err := c.Submit(context.Background(), TypeManual, time.Now(), false)
	if err != nil {
		t.Fatal(err)
	}
	if exec.ID == "" {
		t.Error("submit must return an execution id")
	}

	final := waitTerminal(t, store, exec.ID)
	if final.Status != StatusCompleted {
		t.Errorf("status = %s, want %s (error: %s)", final.Status, StatusCompleted, final.Error)
	}
	if final.StartedAt == nil || final.CompletedAt == nil {
		t.Error("completed execution must carry start and completion times")
	}
}

func TestController_StepMarkers(t *testing.T) {
	runner := &stubRunner{}
	c, store := newTestController(runner, &stubAlerts{})
	defer c.Stop()

	exec, err := c.Submit(context.Background(), TypeManual, time.Now(), false)
	if err != nil {
		t.Fatal(err)
	}
	final := waitTerminal(t, store, exec.ID)

	want := []string{stepDataCollection, stepReconciliation, stepDetection, stepReportDispatch}
	if len(final.Steps) != len(want) {
		t.Fatalf("got %d step markers, want %d: %+v", len(final.Steps), len(want), final.Steps)
	}
	for i, step := range final.Steps {
		if step.Name != want[i] {
			t.Errorf("step[%d] = %s, want %s", i, step.Name, want[i])
		}
		if step.At.IsZero() {
			t.Errorf("step[%d] missing timestamp", i)
		}
	}
}

func TestController_RetryThenSucceed(t *testing.T) {
	runner := &stubRunner{}
	runner.failures.Store(2)
	c, store := newTestController(runner, &stubAlerts{})
	defer c.Stop()

	exec, err := c.Submit(context.Background(), TypeManual, time.Now(), false)
	if err != nil {
		t.Fatal(err)
	}
	final := waitTerminal(t, store, exec.ID)

	if final.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", final.Status, StatusCompleted)
	}
	if final.RetryCount != 2 {
		t.Errorf("retryCount = %d, want 2", final.RetryCount)
	}
	if got := runner.calls.Load(); got != 3 {
		t.Errorf("runner called %d times, want 3", got)
	}
}

func TestController_TerminalFailureAfterRetries(t *testing.T) {
	runner := &stubRunner{}
	runner.failures.Store(100) // never succeeds
	alerts := &stubAlerts{}
	c, store := newTestController(runner, alerts)
	defer c.Stop()

	exec, err := c.Submit(context.Background(), TypeManual, time.Now(), false)
	if err != nil {
		t.Fatal(err)
	}
	final := waitTerminal(t, store, exec.ID)

	if final.Status != StatusFailed {
		t.Errorf("status = %s, want %s", final.Status, StatusFailed)
	}
	if final.RetryCount != 3 {
		t.Errorf("retryCount = %d, want 3", final.RetryCount)
	}
	// Initial attempt plus three retries.
	if got := runner.calls.Load(); got != 4 {
		t.Errorf("runner called %d times, want 4", got)
	}

	routed := alerts.routed()
	if len(routed) != 1 {
		t.Fatalf("expected exactly one failure alert, got %d", len(routed))
	}
	if routed[0].Type != detector.DetectionExecutionFailure || routed[0].Severity != detector.SeverityCritical {
		t.Errorf("expected critical execution failure finding, got %+v", routed[0])
	}
}

func TestController_RunningQuery(t *testing.T) {
	runner := &stubRunner{}
	c, store := newTestController(runner, &stubAlerts{})
	defer c.Stop()

	exec, err := c.Submit(context.Background(), TypeEmergency, time.Now(), true)
	if err != nil {
		t.Fatal(err)
	}

	waitTerminal(t, store, exec.ID)
	running, err := c.Running(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range running {
		if e.ID == exec.ID {
			t.Error("terminal execution still reported as running")
		}
	}
}
