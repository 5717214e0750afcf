// Package recon reconciles platform settlement records against internal
// payment lifecycle events and classifies the discrepancies between them.
package recon

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementEventType is the platform-reported financial event kind.
type SettlementEventType string

const (
	SettlementPurchase      SettlementEventType = "purchase"
	SettlementRenewal       SettlementEventType = "renewal"
	SettlementRefund        SettlementEventType = "refund"
	SettlementChargeback    SettlementEventType = "chargeback"
	SettlementTaxAdjustment SettlementEventType = "tax_adjustment"
	SettlementFeeAdjustment SettlementEventType = "fee_adjustment"
)

// InternalEventType is the internally recorded lifecycle event kind.
type InternalEventType string

const (
	EventPurchase         InternalEventType = "purchase"
	EventRenewal          InternalEventType = "renewal"
	EventCancellation     InternalEventType = "cancellation"
	EventRefund           InternalEventType = "refund"
	EventExpiration       InternalEventType = "expiration"
	EventGracePeriodStart InternalEventType = "grace_period_start"
	EventGracePeriodEnd   InternalEventType = "grace_period_end"
	EventPause            InternalEventType = "pause"
	EventResume           InternalEventType = "resume"
)

// SettlementRecord is one platform-reported financial line item.
// Amount is negative for refunds and chargebacks.
type SettlementRecord struct {
	ID                    string              `json:"id"`
	Platform              string              `json:"platform"`
	SettlementDate        time.Time           `json:"settlementDate"`
	TransactionID         string              `json:"transactionId"`
	OriginalTransactionID string              `json:"originalTransactionId,omitempty"`
	ProductID             string              `json:"productId"`
	SubscriptionID        string              `json:"subscriptionId"`
	EventType             SettlementEventType `json:"eventType"`
	Amount                decimal.Decimal     `json:"amount"`
	Currency              string              `json:"currency"`
	PlatformFee           decimal.Decimal     `json:"platformFee"`
	NetAmount             decimal.Decimal     `json:"netAmount"`
	TaxAmount             decimal.Decimal     `json:"taxAmount"`
	UserID                string              `json:"userId"`
	CountryCode           string              `json:"countryCode"`
	CreatedAt             time.Time           `json:"createdAt"`
}

// InternalEvent is one internally recorded payment lifecycle event.
type InternalEvent struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscriptionId"`
	PaymentID      string            `json:"paymentId,omitempty"`
	EventType      InternalEventType `json:"eventType"`
	Platform       string            `json:"platform"`
	EventData      map[string]any    `json:"eventData,omitempty"`
	ProcessedAt    *time.Time        `json:"processedAt,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Processed reports whether the event was marked processed.
func (e *InternalEvent) Processed() bool { return e.ProcessedAt != nil }

// MatchType distinguishes how a settlement was paired to an event.
type MatchType string

const (
	MatchExactID MatchType = "exact_id"
	MatchPattern MatchType = "pattern"
	MatchManual  MatchType = "manual"
)

// Match pairs one settlement record with one internal event.
type Match struct {
	Settlement *SettlementRecord `json:"settlement"`
	Event      *InternalEvent    `json:"event"`
	Type       MatchType         `json:"type"`
	Confidence float64           `json:"confidence"`
}

// MatchResult is the full output of the matching engine for one run.
type MatchResult struct {
	Matches              []Match             `json:"matches"`
	UnmatchedSettlements []*SettlementRecord `json:"unmatchedSettlements"`
	UnmatchedEvents      []*InternalEvent    `json:"unmatchedEvents"`
}

// DiscrepancyType classifies a detected inconsistency.
type DiscrepancyType string

const (
	MissingInPlatform DiscrepancyType = "missing_in_platform"
	MissingInInternal DiscrepancyType = "missing_in_internal"
	AmountMismatch    DiscrepancyType = "amount_mismatch"
	EventTypeMismatch DiscrepancyType = "event_type_mismatch"
	TimingMismatch    DiscrepancyType = "timing_mismatch"
)

// Discrepancy is one detected inconsistency between the platform's view and
// the internal ledger. Amount holds the monetary size of the inconsistency:
// the absolute delta for amount mismatches, the settlement amount for
// missing records.
type Discrepancy struct {
	TransactionID string          `json:"transactionId"`
	Type          DiscrepancyType `json:"type"`
	PlatformData  map[string]any  `json:"platformData,omitempty"`
	InternalData  map[string]any  `json:"internalData,omitempty"`
	Description   string          `json:"description"`
	HoursApart    float64         `json:"hoursApart,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

// ResolvedDiscrepancy wraps a discrepancy accepted under a tolerance policy.
type ResolvedDiscrepancy struct {
	Discrepancy
	ResolutionMethod string    `json:"resolutionMethod"`
	ResolutionNote   string    `json:"resolutionNote,omitempty"`
	ResolvedAt       time.Time `json:"resolvedAt"`
}

// Status is the final classification of one reconciliation run.
type Status string

const (
	StatusMatched          Status = "matched"
	StatusPartialMatch     Status = "partial_match"
	StatusMajorDiscrepancy Status = "major_discrepancy"
	StatusFailed           Status = "failed"
)

// Outcome is the result of reconciling one platform for one date.
// Keyed by (platform, date); recomputed only when forced.
type Outcome struct {
	Platform             string                `json:"platform"`
	Date                 string                `json:"date"` // YYYY-MM-DD
	SettlementCount      int                   `json:"settlementCount"`
	EventCount           int                   `json:"eventCount"`
	ExactMatches         int                   `json:"exactMatches"`
	PatternMatches       int                   `json:"patternMatches"`
	UnmatchedSettlements int                   `json:"unmatchedSettlements"`
	UnmatchedEvents      int                   `json:"unmatchedEvents"`
	TotalDiscrepancies   int                   `json:"totalDiscrepancies"`
	AutoResolved         int                   `json:"autoResolved"`
	Unresolved           int                   `json:"unresolved"`
	ProcessingTimeMs     int64                 `json:"processingTimeMs"`
	Status               Status                `json:"status"`
	MatchingRate         float64               `json:"matchingRate"`
	AutoResolutionRate   float64               `json:"autoResolutionRate"`
	Discrepancies        []Discrepancy         `json:"discrepancies,omitempty"`
	Resolved             []ResolvedDiscrepancy `json:"resolved,omitempty"`
	CreatedAt            time.Time             `json:"createdAt"`
}

// TotalMatches is the number of settlements paired to an event.
func (o *Outcome) TotalMatches() int { return o.ExactMatches + o.PatternMatches }

// PlatformComparison ranks platforms for one date by a weighted score of
// matching rate, auto-resolution rate, and processing speed.
type PlatformComparison struct {
	Scores map[string]float64 `json:"scores"`
	Best   string             `json:"best"`
}

// CombinedOutcome aggregates all platforms' outcomes for one date.
type CombinedOutcome struct {
	Date                string              `json:"date"`
	Outcomes            map[string]*Outcome `json:"outcomes"`
	TotalSettlements    int                 `json:"totalSettlements"`
	TotalEvents         int                 `json:"totalEvents"`
	TotalMatches        int                 `json:"totalMatches"`
	OverallMatchingRate float64             `json:"overallMatchingRate"`
	OverallStatus       Status              `json:"overallStatus"`
	Comparison          *PlatformComparison `json:"comparison,omitempty"`
	Errors              map[string]string   `json:"errors,omitempty"` // platform -> collection error
	CreatedAt           time.Time           `json:"createdAt"`
}

// TrendDirection summarizes recent movement of a platform's matching rate.
type TrendDirection string

const (
	TrendImproving        TrendDirection = "improving"
	TrendStable           TrendDirection = "stable"
	TrendDegrading        TrendDirection = "degrading"
	TrendInsufficientData TrendDirection = "insufficient_data"
)

// TrendReport aggregates a platform's recent outcome history.
type TrendReport struct {
	Platform            string         `json:"platform"`
	Entries             int            `json:"entries"`
	AvgMatchingRate     float64        `json:"avgMatchingRate"`
	AvgAutoResolution   float64        `json:"avgAutoResolutionRate"`
	AvgProcessingTimeMs float64        `json:"avgProcessingTimeMs"`
	Direction           TrendDirection `json:"direction"`
}

// DateKey formats a time as the canonical reconciliation date key.
func DateKey(t time.Time) string { return t.UTC().Format("2006-01-02") }
