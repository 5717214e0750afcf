package detector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastWebhookRetries(t *testing.T) {
	t.Helper()
	oldDelay := webhookBaseDelay
	webhookBaseDelay = time.Millisecond
	t.Cleanup(func() { webhookBaseDelay = oldDelay })
}

func testAlert() *Alert {
	return &Alert{
		ID:       "alr_test",
		Platform: "app_store",
		Type:     DetectionLowMatchingRate,
		Severity: SeverityHigh,
		Title:    "low matching rate",
	}
}

func TestWebhookChannel_RetriesServerErrors(t *testing.T) {
	fastWebhookRetries(t)

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("ops", srv.URL)
	if err := ch.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("send after transient failures: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("endpoint called %d times, want 3", got)
	}
}

func TestWebhookChannel_ClientErrorNotRetried(t *testing.T) {
	fastWebhookRetries(t)

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("ops", srv.URL)
	if err := ch.Send(context.Background(), testAlert()); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("endpoint called %d times, want 1 (4xx is permanent)", got)
	}
}

func TestWebhookChannel_GivesUpAfterBudget(t *testing.T) {
	fastWebhookRetries(t)

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("ops", srv.URL)
	if err := ch.Send(context.Background(), testAlert()); err == nil {
		t.Fatal("expected error when every attempt fails")
	}
	if got := calls.Load(); got != int64(webhookAttempts) {
		t.Errorf("endpoint called %d times, want %d", got, webhookAttempts)
	}
}
