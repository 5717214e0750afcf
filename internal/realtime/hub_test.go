package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/paymentops/reconciler/internal/detector"
	"github.com/paymentops/reconciler/internal/scheduler"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventAlert, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventAlert},
	}}

	alertEvent := &Event{Type: EventAlert}
	execEvent := &Event{Type: EventExecution}

	if !h.shouldSend(client, alertEvent) {
		t.Error("Should receive alert events")
	}
	if h.shouldSend(client, execEvent) {
		t.Error("Should NOT receive execution events")
	}
}

func TestShouldSend_PlatformFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Platforms: []string{"app_store"},
	}}

	matching := &Event{Type: EventAlert, Platform: "app_store"}
	notMatching := &Event{Type: EventAlert, Platform: "play_store"}
	unscoped := &Event{Type: EventExecution}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on platform")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match other platforms")
	}
	if !h.shouldSend(client, unscoped) {
		t.Error("Events without a platform should pass the platform filter")
	}
}

func TestShouldSend_SeverityFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Severities: []string{"critical"},
	}}

	critical := &Event{
		Type: EventAlert,
		Data: &detector.Alert{Severity: detector.SeverityCritical},
	}
	medium := &Event{
		Type: EventAlert,
		Data: &detector.Alert{Severity: detector.SeverityMedium},
	}
	execution := &Event{Type: EventExecution, Data: &scheduler.Execution{}}

	if !h.shouldSend(client, critical) {
		t.Error("Should receive critical alerts")
	}
	if h.shouldSend(client, medium) {
		t.Error("Should NOT receive medium alerts")
	}
	if !h.shouldSend(client, execution) {
		t.Error("Severity filter should only apply to alerts")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventAlert}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: EventAlert, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_NotifierHooks(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.AlertRaised(&detector.Alert{
		Platform: "app_store",
		Severity: detector.SeverityHigh,
		Title:    "Low matching rate",
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for alert broadcast")
	}

	h.ExecutionUpdated(&scheduler.Execution{ID: "exec_1", Status: scheduler.StatusRunning})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for execution broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants executions
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventExecution}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send an alert event (should be filtered out)
	h.Broadcast(&Event{Type: EventAlert, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive alert event")
	default:
		// Good - filtered out
	}

	// Send an execution event (should be received)
	h.Broadcast(&Event{Type: EventExecution, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive execution event")
	}
}
