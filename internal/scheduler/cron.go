package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/paymentops/reconciler/internal/detector"
	"github.com/paymentops/reconciler/internal/logging"
	"github.com/paymentops/reconciler/internal/recon"
)

// OutcomeReader serves stored outcomes for monitoring and digests.
// recon.Service satisfies it.
type OutcomeReader interface {
	Outcome(ctx context.Context, platform, date string) (*recon.Outcome, error)
	OutcomesByDate(ctx context.Context, date string) ([]*recon.Outcome, error)
}

// Broadcaster sends policy-exempt notices. detector.Router satisfies it.
type Broadcaster interface {
	Broadcast(ctx context.Context, a *detector.Alert) *detector.Alert
}

// CronConfig holds the trigger cadences.
type CronConfig struct {
	DailyHour       int
	DailyMinute     int
	MonitorInterval time.Duration
	BusinessHourMin int // inclusive
	BusinessHourMax int // exclusive
	Platforms       []string
}

// Cron wires the fixed-cadence triggers: the daily run for yesterday,
// intraday business-hours status monitoring, and the weekly digest.
type Cron struct {
	cron       *cron.Cron
	controller *Controller
	outcomes   OutcomeReader
	alerts     AlertSink
	broadcast  Broadcaster
	cfg        CronConfig
}

// NewCron creates the trigger scheduler.
func NewCron(controller *Controller, outcomes OutcomeReader, alerts AlertSink, broadcast Broadcaster, cfg CronConfig) *Cron {
	return &Cron{
		cron:       cron.New(),
		controller: controller,
		outcomes:   outcomes,
		alerts:     alerts,
		broadcast:  broadcast,
		cfg:        cfg,
	}
}

// Start registers the trigger entries and starts the cron loop.
func (c *Cron) Start(ctx context.Context) error {
	daily := fmt.Sprintf("%d %d * * *", c.cfg.DailyMinute, c.cfg.DailyHour)
	if _, err := c.cron.AddFunc(daily, func() { c.runDaily(ctx) }); err != nil {
		return fmt.Errorf("register daily trigger: %w", err)
	}

	monitor := fmt.Sprintf("@every %s", c.cfg.MonitorInterval)
	if _, err := c.cron.AddFunc(monitor, func() { c.runMonitor(ctx) }); err != nil {
		return fmt.Errorf("register monitor trigger: %w", err)
	}

	// Monday morning, covering the prior seven days.
	if _, err := c.cron.AddFunc("0 6 * * 1", func() { c.runWeekly(ctx) }); err != nil {
		return fmt.Errorf("register weekly trigger: %w", err)
	}

	c.cron.Start()
	logging.L(ctx).Info("cron triggers started",
		"daily", daily, "monitor", c.cfg.MonitorInterval.String())
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (c *Cron) Stop() {
	<-c.cron.Stop().Done()
}

// NextDailyRun returns when the next scheduled entry fires.
func (c *Cron) NextDailyRun() time.Time {
	entries := c.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	next := entries[0].Next
	for _, e := range entries[1:] {
		if e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

// runDaily processes yesterday's settlements.
func (c *Cron) runDaily(ctx context.Context) {
	yesterday := time.Now().AddDate(0, 0, -1)
	exec, err := c.controller.Submit(ctx, TypeDailyAuto, yesterday, false)
	if err != nil {
		logging.L(ctx).Error("daily trigger failed to submit", "error", err)
		return
	}
	logging.L(ctx).Info("daily reconciliation submitted",
		"execution_id", exec.ID, "date", exec.TargetDate)
}

// runMonitor re-checks today's and yesterday's latest outcomes during
// business hours and alerts on degraded status.
func (c *Cron) runMonitor(ctx context.Context) {
	hour := time.Now().Hour()
	if hour < c.cfg.BusinessHourMin || hour >= c.cfg.BusinessHourMax {
		return
	}

	dates := []string{
		recon.DateKey(time.Now()),
		recon.DateKey(time.Now().AddDate(0, 0, -1)),
	}

	var findings []detector.Finding
	for _, platform := range c.cfg.Platforms {
		for _, date := range dates {
			o, err := c.outcomes.Outcome(ctx, platform, date)
			if err != nil {
				continue // no outcome recorded yet
			}
			if f, ok := detector.StatusFinding(o); ok {
				findings = append(findings, f)
			}
		}
	}

	if len(findings) > 0 {
		c.alerts.Route(ctx, findings)
	}
}

// runWeekly aggregates the prior seven days into a summary digest.
func (c *Cron) runWeekly(ctx context.Context) {
	var lines []string
	counts := map[recon.Status]int{}

	for i := 7; i >= 1; i-- {
		date := recon.DateKey(time.Now().AddDate(0, 0, -i))
		outcomes, err := c.outcomes.OutcomesByDate(ctx, date)
		if err != nil || len(outcomes) == 0 {
			continue
		}
		for _, o := range outcomes {
			counts[o.Status]++
			lines = append(lines, fmt.Sprintf("%s %s: %s (rate %.2f, unresolved %d)",
				date, o.Platform, o.Status, o.MatchingRate, o.Unresolved))
		}
	}

	if len(lines) == 0 {
		return
	}

	c.broadcast.Broadcast(ctx, &detector.Alert{
		Platform: "all",
		Type:     "weekly_summary",
		Severity: detector.SeverityLow,
		Title:    "Weekly reconciliation summary",
		Message: fmt.Sprintf("%d matched, %d partial, %d major, %d failed\n%s",
			counts[recon.StatusMatched], counts[recon.StatusPartialMatch],
			counts[recon.StatusMajorDiscrepancy], counts[recon.StatusFailed],
			strings.Join(lines, "\n")),
	})
}
