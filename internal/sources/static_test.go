package sources

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/paymentops/reconciler/internal/recon"
)

var fixtureDate = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestStaticSource_Deterministic(t *testing.T) {
	src := NewStaticSource(50)
	ctx := context.Background()

	a, err := src.FetchSettlements(ctx, "app_store", fixtureDate)
	if err != nil {
		t.Fatal(err)
	}
	b, err := src.FetchSettlements(ctx, "app_store", fixtureDate)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("same platform and date must produce identical settlements")
	}

	other, err := src.FetchSettlements(ctx, "play_store", fixtureDate)
	if err != nil {
		t.Fatal(err)
	}
	if reflect.DeepEqual(a, other) {
		t.Error("different platforms must produce different settlements")
	}
}

func TestStaticSource_EventsReconcilable(t *testing.T) {
	src := NewStaticSource(50)
	ctx := context.Background()

	settlements, err := src.FetchSettlements(ctx, "app_store", fixtureDate)
	if err != nil {
		t.Fatal(err)
	}
	events, err := src.FetchInternalEvents(ctx, "app_store", fixtureDate)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 || len(events) >= len(settlements) {
		t.Fatalf("expected some but not all settlements mirrored, got %d events for %d settlements",
			len(events), len(settlements))
	}

	byTxn := map[string]bool{}
	for _, s := range settlements {
		byTxn[s.TransactionID] = true
	}
	var shared int
	for _, e := range events {
		if byTxn[e.ID] {
			shared++
		}
	}
	if shared < len(events)/2 {
		t.Errorf("only %d of %d events share a settlement transaction id", shared, len(events))
	}

	result := recon.NewMatcher().Run(settlements, events)
	if len(result.Matches) < len(events)/2 {
		t.Errorf("fixtures should mostly match, got %d matches for %d events",
			len(result.Matches), len(events))
	}
	if len(result.UnmatchedSettlements) == 0 {
		t.Error("fixtures should leave some settlements unmatched")
	}
}

func TestStaticSource_AmountsConsistent(t *testing.T) {
	src := NewStaticSource(30)
	settlements, err := src.FetchSettlements(context.Background(), "app_store", fixtureDate)
	if err != nil {
		t.Fatal(err)
	}

	for _, s := range settlements {
		if s.EventType == recon.SettlementRefund && !s.Amount.IsNegative() {
			t.Errorf("%s: refund amount %s is not negative", s.ID, s.Amount)
		}
		if s.EventType != recon.SettlementRefund && !s.Amount.IsPositive() {
			t.Errorf("%s: %s amount %s is not positive", s.ID, s.EventType, s.Amount)
		}
	}
}
