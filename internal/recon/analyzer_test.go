package recon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func matchPair(s SettlementRecord, e InternalEvent) Match {
	return Match{Settlement: &s, Event: &e, Type: MatchExactID, Confidence: 1.0}
}

func TestAnalyzer_TimingMismatchAutoResolved(t *testing.T) {
	a := NewAnalyzer()

	// Exact match with a 2 hour createdAt gap.
	s := settlement("txn-1")
	e := event("txn-1", func(e *InternalEvent) {
		e.CreatedAt = baseTime.Add(2 * time.Hour)
	})

	found := a.Analyze([]Match{matchPair(s, e)})
	if len(found) != 1 {
		t.Fatalf("expected 1 discrepancy, got %d", len(found))
	}
	if found[0].Type != TimingMismatch {
		t.Fatalf("expected timing mismatch, got %s", found[0].Type)
	}
	if found[0].HoursApart != 2 {
		t.Errorf("hoursApart = %v, want 2", found[0].HoursApart)
	}

	resolved, unresolved := a.Resolve(found, baseTime)
	if len(unresolved) != 0 {
		t.Errorf("2h gap should auto-resolve, %d left unresolved", len(unresolved))
	}
	if len(resolved) != 1 || resolved[0].ResolutionMethod != ResolutionTimingTolerance {
		t.Errorf("expected %s resolution", ResolutionTimingTolerance)
	}
}

func TestAnalyzer_TimingWithinTolerance(t *testing.T) {
	a := NewAnalyzer()

	s := settlement("txn-1")
	e := event("txn-1", func(e *InternalEvent) {
		e.CreatedAt = baseTime.Add(30 * time.Minute)
	})

	if found := a.Analyze([]Match{matchPair(s, e)}); len(found) != 0 {
		t.Errorf("30 minute gap is within tolerance, got %d discrepancies", len(found))
	}
}

func TestAnalyzer_TimingBeyondAutoResolution(t *testing.T) {
	a := NewAnalyzer()

	s := settlement("txn-1")
	e := event("txn-1", func(e *InternalEvent) {
		e.CreatedAt = baseTime.Add(30 * time.Hour)
	})

	found := a.Analyze([]Match{matchPair(s, e)})
	resolved, unresolved := a.Resolve(found, baseTime)

	if len(resolved) != 0 {
		t.Errorf("30h gap must not auto-resolve")
	}
	if len(unresolved) != 1 || unresolved[0].Type != TimingMismatch {
		t.Fatalf("expected 1 unresolved timing mismatch")
	}
}

func TestAnalyzer_EventTypeMismatch(t *testing.T) {
	a := NewAnalyzer()

	s := settlement("txn-1") // purchase
	e := event("txn-1", func(e *InternalEvent) {
		e.EventType = EventRefund
	})

	found := a.Analyze([]Match{matchPair(s, e)})
	if len(found) != 1 || found[0].Type != EventTypeMismatch {
		t.Fatalf("expected 1 event type mismatch, got %v", found)
	}

	// Type mismatches are never auto-resolved.
	resolved, unresolved := a.Resolve(found, baseTime)
	if len(resolved) != 0 || len(unresolved) != 1 {
		t.Errorf("event type mismatch must stay unresolved")
	}
}

func TestAnalyzer_AmountMismatch(t *testing.T) {
	a := NewAnalyzer()

	tests := []struct {
		name         string
		settled      string
		recorded     any
		wantFinding  bool
		wantResolved bool
	}{
		{"equal amounts", "9.99", 9.99, false, false},
		{"within minor unit", "100.00", "100.005", false, false},
		{"small drift auto-resolves", "100.00", "100.50", true, true},
		{"large gap stays open", "100.00", 90.00, true, false},
		{"no recorded amount", "9.99", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := settlement("txn-1", func(s *SettlementRecord) {
				s.Amount = decimal.RequireFromString(tt.settled)
			})
			e := event("txn-1")
			if tt.recorded != nil {
				e.EventData = map[string]any{"amount": tt.recorded}
			}

			found := a.Analyze([]Match{matchPair(s, e)})
			if !tt.wantFinding {
				if len(found) != 0 {
					t.Fatalf("expected no discrepancy, got %v", found)
				}
				return
			}
			if len(found) != 1 || found[0].Type != AmountMismatch {
				t.Fatalf("expected 1 amount mismatch, got %v", found)
			}

			resolved, unresolved := a.Resolve(found, baseTime)
			if tt.wantResolved {
				if len(resolved) != 1 || resolved[0].ResolutionMethod != ResolutionCurrencyTolerance {
					t.Errorf("expected %s resolution", ResolutionCurrencyTolerance)
				}
			} else if len(unresolved) != 1 {
				t.Errorf("expected mismatch to stay unresolved")
			}
		})
	}
}
