package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/paymentops/reconciler/internal/logging"
	"github.com/paymentops/reconciler/internal/retry"
)

// Webhook delivery retry budget. Short: the router fires channels during
// dispatch and a dead endpoint should not stall the run.
var (
	webhookAttempts  = 3
	webhookBaseDelay = 200 * time.Millisecond
)

// Channel delivers an alert over one transport. Implementations must be
// safe for concurrent use.
type Channel interface {
	Name() string
	Send(ctx context.Context, a *Alert) error
}

// WebhookChannel posts alerts as JSON to a configured URL.
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook alert channel.
func NewWebhookChannel(name, url string) *WebhookChannel {
	return &WebhookChannel{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (w *WebhookChannel) Name() string { return w.name }

func (w *WebhookChannel) Send(ctx context.Context, a *Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	return retry.Do(ctx, webhookAttempts, webhookBaseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("build webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("post webhook: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("webhook %s returned %d", w.name, resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return retry.Permanent(fmt.Errorf("webhook %s returned %d", w.name, resp.StatusCode))
		}
		return nil
	})
}

// LogChannel writes alerts to the structured log. Always available, used
// as the fallback channel in demo mode.
type LogChannel struct{}

// NewLogChannel creates a log-backed alert channel.
func NewLogChannel() *LogChannel { return &LogChannel{} }

func (l *LogChannel) Name() string { return "log" }

func (l *LogChannel) Send(ctx context.Context, a *Alert) error {
	logging.L(ctx).Warn("alert",
		"alert_id", a.ID,
		"platform", a.Platform,
		"type", a.Type,
		"severity", a.Severity,
		"title", a.Title,
		"message", a.Message,
	)
	return nil
}
