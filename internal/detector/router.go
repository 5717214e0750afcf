package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/paymentops/reconciler/internal/idgen"
	"github.com/paymentops/reconciler/internal/logging"
)

// DefaultCooldown suppresses repeat alerts of the same kind per platform.
const DefaultCooldown = 30 * time.Minute

// mediumAffectedFloor gates medium findings: below this many affected
// records they are recorded but not dispatched.
const mediumAffectedFloor = 5

// Alert is a dispatched (or suppressed) notification built from a finding.
type Alert struct {
	ID         string           `json:"id"`
	Platform   string           `json:"platform"`
	Type       DetectionType    `json:"type"`
	Severity   Severity         `json:"severity"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	Recipients []string         `json:"recipients"`
	Channels   []string         `json:"channels"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	Deliveries []DeliveryResult `json:"deliveries,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// DeliveryResult records one channel's best-effort send.
type DeliveryResult struct {
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Recipients groups notification targets by escalation tier. Higher
// severities widen the list.
type Recipients struct {
	Ops        []string
	OnCall     []string
	Management []string
}

// Notifier receives dispatched alerts for live feeds. Optional.
type Notifier interface {
	AlertRaised(a *Alert)
}

// Router decides which findings become alerts and fans them out.
type Router struct {
	channels   []Channel
	store      StateStore
	recipients Recipients
	cooldown   time.Duration
	notifier   Notifier

	now func() time.Time
}

// NewRouter creates an alert router over the given channels and state
// store. Channel order matters: lower severities use a prefix of it.
func NewRouter(channels []Channel, store StateStore, recipients Recipients) *Router {
	return &Router{
		channels:   channels,
		store:      store,
		recipients: recipients,
		cooldown:   DefaultCooldown,
		now:        time.Now,
	}
}

// SetCooldown overrides the suppression window.
func (r *Router) SetCooldown(d time.Duration) { r.cooldown = d }

// SetNotifier attaches a live-feed notifier.
func (r *Router) SetNotifier(n Notifier) { r.notifier = n }

// Route applies the dispatch policy and cooldown to each finding and
// delivers the survivors. It returns the alerts actually dispatched.
// Channel failures are recorded per channel and never fail the call.
func (r *Router) Route(ctx context.Context, findings []Finding) []*Alert {
	var dispatched []*Alert
	for _, f := range findings {
		if !r.shouldAlert(f) {
			continue
		}

		onCooldown, err := r.onCooldown(ctx, f)
		if err != nil {
			logging.L(ctx).Warn("cooldown check failed, dispatching anyway",
				"platform", f.Platform, "type", f.Type, "error", err)
		}
		if onCooldown {
			alertsSuppressed.WithLabelValues(string(f.Type)).Inc()
			logging.L(ctx).Debug("alert suppressed by cooldown",
				"platform", f.Platform, "type", f.Type)
			continue
		}

		a := r.buildAlert(f)
		r.deliver(ctx, a)

		if err := r.store.MarkAlerted(ctx, f.Platform, f.Type, a.CreatedAt); err != nil {
			logging.L(ctx).Warn("failed to record cooldown", "error", err)
		}
		if err := r.store.SaveAlert(ctx, a); err != nil {
			logging.L(ctx).Warn("failed to persist alert", "error", err)
		}
		if r.notifier != nil {
			r.notifier.AlertRaised(a)
		}

		alertsDispatched.WithLabelValues(string(a.Severity)).Inc()
		dispatched = append(dispatched, a)
	}
	return dispatched
}

// Broadcast sends an alert to every channel, bypassing the dispatch
// policy and cooldown. Used for digests and operational notices.
func (r *Router) Broadcast(ctx context.Context, a *Alert) *Alert {
	if a.ID == "" {
		a.ID = idgen.WithPrefix("alr_")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	a.Channels = channelNames(r.channels)

	r.deliver(ctx, a)
	if err := r.store.SaveAlert(ctx, a); err != nil {
		logging.L(ctx).Warn("failed to persist broadcast alert", "error", err)
	}
	if r.notifier != nil {
		r.notifier.AlertRaised(a)
	}
	return a
}

// RecentAlerts returns the alert history, newest first.
func (r *Router) RecentAlerts(ctx context.Context, limit int) ([]*Alert, error) {
	return r.store.RecentAlerts(ctx, limit)
}

// shouldAlert is the dispatch policy: critical and high always alert,
// medium needs enough affected records, low never alerts.
func (r *Router) shouldAlert(f Finding) bool {
	switch f.Severity {
	case SeverityCritical, SeverityHigh:
		return true
	case SeverityMedium:
		return f.AffectedRecords >= mediumAffectedFloor
	default:
		return false
	}
}

func (r *Router) onCooldown(ctx context.Context, f Finding) (bool, error) {
	last, ok, err := r.store.LastAlerted(ctx, f.Platform, f.Type)
	if err != nil {
		return false, err
	}
	return ok && r.now().Sub(last) < r.cooldown, nil
}

func (r *Router) buildAlert(f Finding) *Alert {
	selected := r.channelsFor(f.Severity)
	return &Alert{
		ID:         idgen.WithPrefix("alr_"),
		Platform:   f.Platform,
		Type:       f.Type,
		Severity:   f.Severity,
		Title:      fmt.Sprintf("[%s] %s on %s", f.Severity, f.Type, f.Platform),
		Message:    f.Description,
		Recipients: r.recipientsFor(f.Severity),
		Channels:   channelNames(selected),
		Metadata:   f.Metadata,
		CreatedAt:  r.now(),
	}
}

// deliver fans out to the alert's channels best-effort.
func (r *Router) deliver(ctx context.Context, a *Alert) {
	byName := make(map[string]Channel, len(r.channels))
	for _, ch := range r.channels {
		byName[ch.Name()] = ch
	}

	for _, name := range a.Channels {
		ch, ok := byName[name]
		if !ok {
			continue
		}
		result := DeliveryResult{Channel: name, Success: true}
		if err := ch.Send(ctx, a); err != nil {
			result.Success = false
			result.Error = err.Error()
			logging.L(ctx).Warn("alert delivery failed",
				"alert_id", a.ID, "channel", name, "error", err)
		}
		deliveriesTotal.WithLabelValues(name, deliveryLabel(result.Success)).Inc()
		a.Deliveries = append(a.Deliveries, result)
	}
}

// channelsFor scales channel fan-out with severity: critical uses all,
// high all but the last, medium two, low one.
func (r *Router) channelsFor(s Severity) []Channel {
	n := len(r.channels)
	if n == 0 {
		return nil
	}

	var count int
	switch s {
	case SeverityCritical:
		count = n
	case SeverityHigh:
		count = n - 1
		if count < 1 {
			count = 1
		}
	case SeverityMedium:
		count = 2
	default:
		count = 1
	}
	if count > n {
		count = n
	}
	return r.channels[:count]
}

// recipientsFor widens the audience with severity.
func (r *Router) recipientsFor(s Severity) []string {
	out := append([]string{}, r.recipients.Ops...)
	if s.rank() >= SeverityHigh.rank() {
		out = append(out, r.recipients.OnCall...)
	}
	if s.rank() >= SeverityCritical.rank() {
		out = append(out, r.recipients.Management...)
	}
	return out
}

func channelNames(channels []Channel) []string {
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}
	return names
}

func deliveryLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
