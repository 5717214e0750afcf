// Package detector applies threshold rules to reconciliation outcomes and
// routes the resulting alerts to notification channels.
package detector

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/paymentops/reconciler/internal/logging"
	"github.com/paymentops/reconciler/internal/recon"
)

// Severity orders findings from informational to page-worthy.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// DetectionType identifies which rule produced a finding. It is also the
// cooldown key together with the platform.
type DetectionType string

const (
	DetectionLowMatchingRate     DetectionType = "low_matching_rate"
	DetectionHighUnresolvedCount DetectionType = "high_unresolved_count"
	DetectionLargeAmountMismatch DetectionType = "large_amount_mismatch"
	DetectionRecurringPattern    DetectionType = "recurring_pattern"
	DetectionStatusDegraded      DetectionType = "status_degraded"
	DetectionExecutionFailure    DetectionType = "execution_failure"
)

// Rule thresholds.
var (
	lowMatchingRateLimit = 0.85
	highUnresolvedLimit  = 10
	largeAmountLimit     = decimal.NewFromInt(1000)

	recurringWindow   = 7
	recurringMinDays  = 3
	recurringFraction = 0.5
)

// Finding is one threshold breach derived from an outcome. Not an error:
// it becomes an alert if the dispatch policy says so.
type Finding struct {
	Platform        string          `json:"platform"`
	Type            DetectionType   `json:"type"`
	Severity        Severity        `json:"severity"`
	AffectedRecords int             `json:"affectedRecords"`
	EstimatedImpact decimal.Decimal `json:"estimatedImpact"`
	Description     string          `json:"description"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// HistoryProvider supplies the rolling outcome history used by the
// recurring-pattern rule. recon.OutcomeStore satisfies it.
type HistoryProvider interface {
	History(ctx context.Context, platform string, limit int) ([]*recon.Outcome, error)
}

// Detector evaluates the threshold rules against outcomes.
type Detector struct {
	history HistoryProvider
}

// New creates a detector. history may be nil, which disables the
// recurring-pattern rule.
func New(history HistoryProvider) *Detector {
	return &Detector{history: history}
}

// Detect runs every rule against one platform outcome.
func (d *Detector) Detect(ctx context.Context, o *recon.Outcome) []Finding {
	var findings []Finding

	if o.MatchingRate < lowMatchingRateLimit {
		findings = append(findings, Finding{
			Platform:        o.Platform,
			Type:            DetectionLowMatchingRate,
			Severity:        SeverityHigh,
			AffectedRecords: o.UnmatchedSettlements + o.UnmatchedEvents,
			Description:     fmt.Sprintf("matching rate %.2f below %.2f threshold", o.MatchingRate, lowMatchingRateLimit),
			Metadata:        map[string]any{"matchingRate": o.MatchingRate, "date": o.Date},
		})
	}

	if o.Unresolved >= highUnresolvedLimit {
		findings = append(findings, Finding{
			Platform:        o.Platform,
			Type:            DetectionHighUnresolvedCount,
			Severity:        SeverityMedium,
			AffectedRecords: o.Unresolved,
			Description:     fmt.Sprintf("%d unresolved discrepancies at or above the %d threshold", o.Unresolved, highUnresolvedLimit),
			Metadata:        map[string]any{"unresolved": o.Unresolved, "date": o.Date},
		})
	}

	if f, ok := d.largeAmountFinding(o); ok {
		findings = append(findings, f)
	}

	if f, ok := d.recurringFinding(ctx, o.Platform); ok {
		findings = append(findings, f)
	}

	for _, f := range findings {
		findingsTotal.WithLabelValues(string(f.Type), string(f.Severity)).Inc()
	}
	return findings
}

// DetectCombined runs the rules over every platform outcome in a
// date-level aggregate.
func (d *Detector) DetectCombined(ctx context.Context, c *recon.CombinedOutcome) []Finding {
	var findings []Finding
	for _, o := range c.Outcomes {
		findings = append(findings, d.Detect(ctx, o)...)
	}
	return findings
}

// largeAmountFinding flags any individual amount mismatch of $1000 or
// more, resolved or not.
func (d *Detector) largeAmountFinding(o *recon.Outcome) (Finding, bool) {
	var count int
	impact := decimal.Zero

	check := func(disc recon.Discrepancy) {
		if disc.Type != recon.AmountMismatch {
			return
		}
		if disc.Amount.GreaterThanOrEqual(largeAmountLimit) {
			count++
			impact = impact.Add(disc.Amount)
		}
	}
	for _, disc := range o.Discrepancies {
		check(disc)
	}
	for _, r := range o.Resolved {
		check(r.Discrepancy)
	}

	if count == 0 {
		return Finding{}, false
	}
	return Finding{
		Platform:        o.Platform,
		Type:            DetectionLargeAmountMismatch,
		Severity:        SeverityCritical,
		AffectedRecords: count,
		EstimatedImpact: impact,
		Description:     fmt.Sprintf("%d amount mismatches of $%s or more, total impact $%s", count, largeAmountLimit, impact),
		Metadata:        map[string]any{"date": o.Date},
	}, true
}

// recurringFinding checks whether severe findings keep showing up: at
// least 3 of the last 7 recorded days, with half or more of them severe.
func (d *Detector) recurringFinding(ctx context.Context, platform string) (Finding, bool) {
	if d.history == nil {
		return Finding{}, false
	}

	history, err := d.history.History(ctx, platform, recurringWindow)
	if err != nil {
		logging.L(ctx).Warn("recurring pattern check skipped", "platform", platform, "error", err)
		return Finding{}, false
	}
	if len(history) < recurringMinDays {
		return Finding{}, false
	}

	var severe int
	for _, o := range history {
		if severeDay(o) {
			severe++
		}
	}
	if float64(severe)/float64(len(history)) < recurringFraction {
		return Finding{}, false
	}

	return Finding{
		Platform:        platform,
		Type:            DetectionRecurringPattern,
		Severity:        SeverityHigh,
		AffectedRecords: severe,
		Description:     fmt.Sprintf("%d of the last %d days carried severe findings", severe, len(history)),
	}, true
}

// severeDay replays the High/Critical rules against a stored outcome.
func severeDay(o *recon.Outcome) bool {
	if o.MatchingRate < lowMatchingRateLimit {
		return true
	}
	if o.Status == recon.StatusFailed {
		return true
	}
	for _, disc := range o.Discrepancies {
		if disc.Type == recon.AmountMismatch && disc.Amount.GreaterThanOrEqual(largeAmountLimit) {
			return true
		}
	}
	return false
}

// StatusFinding builds the intraday monitoring finding for an outcome
// whose status degraded to failed or major discrepancy.
func StatusFinding(o *recon.Outcome) (Finding, bool) {
	if o.Status != recon.StatusFailed && o.Status != recon.StatusMajorDiscrepancy {
		return Finding{}, false
	}
	severity := SeverityHigh
	if o.Status == recon.StatusFailed {
		severity = SeverityCritical
	}
	return Finding{
		Platform:        o.Platform,
		Type:            DetectionStatusDegraded,
		Severity:        severity,
		AffectedRecords: o.Unresolved,
		Description:     fmt.Sprintf("reconciliation status for %s is %s", o.Date, o.Status),
		Metadata:        map[string]any{"date": o.Date, "status": string(o.Status)},
	}, true
}

// ExecutionFailureFinding builds the terminal scheduler failure finding.
// Manual intervention is required once this fires.
func ExecutionFailureFinding(executionID, date string, retries int, cause error) Finding {
	return Finding{
		Platform: "all",
		Type:     DetectionExecutionFailure,
		Severity: SeverityCritical,
		Description: fmt.Sprintf("execution %s for %s failed after %d retries, manual intervention required: %v",
			executionID, date, retries, cause),
		Metadata: map[string]any{"executionId": executionID, "date": date, "retries": retries},
	}
}
