package recon

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Resolution methods recorded on auto-resolved discrepancies.
const (
	ResolutionTimingTolerance   = "AUTO_TIMING_TOLERANCE"
	ResolutionCurrencyTolerance = "AUTO_CURRENCY_TOLERANCE"
)

// Analyzer tolerances.
var (
	// timingTolerance is how far apart a matched pair's timestamps may be
	// before a timing discrepancy is raised.
	timingTolerance = time.Hour

	// autoTimingLimit is the widest gap still auto-resolvable.
	autoTimingLimit = 24 * time.Hour

	// amountTolerance is one currency minor unit; smaller deltas are not
	// discrepancies at all.
	amountTolerance = decimal.NewFromFloat(0.01)

	// autoAmountFraction is the relative delta (vs the settlement amount)
	// still auto-resolvable as currency fluctuation.
	autoAmountFraction = decimal.NewFromFloat(0.01)
)

// Analyzer classifies mismatches within matched pairs and attempts
// automatic resolution under tolerance policies.
type Analyzer struct{}

// NewAnalyzer creates a discrepancy analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze inspects every matched pair and returns the discrepancies found.
func (a *Analyzer) Analyze(matches []Match) []Discrepancy {
	var found []Discrepancy
	for _, m := range matches {
		found = append(found, a.inspect(m)...)
	}
	return found
}

// Resolve splits discrepancies into auto-resolved and unresolved.
// Timing gaps within 24 hours and amount deltas within 1 percent of the
// settlement amount are accepted without human review.
func (a *Analyzer) Resolve(found []Discrepancy, now time.Time) (resolved []ResolvedDiscrepancy, unresolved []Discrepancy) {
	for _, d := range found {
		switch d.Type {
		case TimingMismatch:
			if d.HoursApart <= autoTimingLimit.Hours() {
				resolved = append(resolved, ResolvedDiscrepancy{
					Discrepancy:      d,
					ResolutionMethod: ResolutionTimingTolerance,
					ResolutionNote:   fmt.Sprintf("%.1fh gap within 24h tolerance", d.HoursApart),
					ResolvedAt:       now,
				})
				continue
			}
		case AmountMismatch:
			if a.withinCurrencyTolerance(d) {
				resolved = append(resolved, ResolvedDiscrepancy{
					Discrepancy:      d,
					ResolutionMethod: ResolutionCurrencyTolerance,
					ResolutionNote:   "delta within 1% currency fluctuation tolerance",
					ResolvedAt:       now,
				})
				continue
			}
		}
		unresolved = append(unresolved, d)
	}
	return resolved, unresolved
}

func (a *Analyzer) inspect(m Match) []Discrepancy {
	s, ev := m.Settlement, m.Event
	var found []Discrepancy

	if expected, ok := expectedInternalType(s.EventType); ok && expected != ev.EventType {
		found = append(found, Discrepancy{
			TransactionID: s.TransactionID,
			Type:          EventTypeMismatch,
			PlatformData:  map[string]any{"eventType": string(s.EventType)},
			InternalData:  map[string]any{"eventType": string(ev.EventType)},
			Description:   fmt.Sprintf("settlement %s expects internal %s, event recorded %s", s.EventType, expected, ev.EventType),
		})
	}

	apart := s.CreatedAt.Sub(ev.CreatedAt)
	if apart < 0 {
		apart = -apart
	}
	if apart > timingTolerance {
		found = append(found, Discrepancy{
			TransactionID: s.TransactionID,
			Type:          TimingMismatch,
			PlatformData:  map[string]any{"createdAt": s.CreatedAt},
			InternalData:  map[string]any{"createdAt": ev.CreatedAt},
			Description:   fmt.Sprintf("timestamps %.1f hours apart", apart.Hours()),
			HoursApart:    apart.Hours(),
		})
	}

	if recorded, ok := eventAmount(ev.EventData); ok {
		delta := s.Amount.Sub(recorded).Abs()
		if delta.GreaterThan(amountTolerance) {
			found = append(found, Discrepancy{
				TransactionID: s.TransactionID,
				Type:          AmountMismatch,
				PlatformData:  map[string]any{"amount": s.Amount.String(), "currency": s.Currency},
				InternalData:  map[string]any{"amount": recorded.String()},
				Description:   fmt.Sprintf("settlement amount %s differs from recorded %s by %s", s.Amount, recorded, delta),
				Amount:        delta,
			})
		}
	}

	return found
}

// withinCurrencyTolerance accepts an amount delta of at most 1% of the
// settlement amount as reported in the discrepancy's platform data.
func (a *Analyzer) withinCurrencyTolerance(d Discrepancy) bool {
	raw, ok := d.PlatformData["amount"]
	if !ok {
		return false
	}
	base, ok := toDecimal(raw)
	if !ok || base.IsZero() {
		return false
	}
	limit := base.Abs().Mul(autoAmountFraction)
	return d.Amount.LessThanOrEqual(limit)
}

// eventAmount extracts the recorded amount from an event's data bag.
// Events without an amount cannot be amount-checked.
func eventAmount(data map[string]any) (decimal.Decimal, bool) {
	if data == nil {
		return decimal.Zero, false
	}
	raw, ok := data["amount"]
	if !ok {
		return decimal.Zero, false
	}
	return toDecimal(raw)
}

func toDecimal(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, true
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(v)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}
