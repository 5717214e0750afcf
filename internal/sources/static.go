package sources

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paymentops/reconciler/internal/recon"
)

// StaticSource generates deterministic settlement and event fixtures for a
// platform and date. The same inputs always yield the same data, so repeat
// runs reconcile identically. It backs the service when no database or
// provider credentials are configured.
type StaticSource struct {
	recordsPerDay int
}

// NewStaticSource creates a fixture source producing the given number of
// settlement records per platform per day.
func NewStaticSource(recordsPerDay int) *StaticSource {
	if recordsPerDay < 1 {
		recordsPerDay = 20
	}
	return &StaticSource{recordsPerDay: recordsPerDay}
}

// FetchSettlements returns the platform's fixture settlements for the date.
func (s *StaticSource) FetchSettlements(ctx context.Context, platform string, date time.Time) ([]recon.SettlementRecord, error) {
	rng := s.rng(platform, date)
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	records := make([]recon.SettlementRecord, 0, s.recordsPerDay)
	for i := 0; i < s.recordsPerDay; i++ {
		amount := decimal.New(int64(199+rng.Intn(4800)), -2)
		eventType := recon.SettlementPurchase
		if rng.Intn(10) == 0 {
			eventType = recon.SettlementRefund
			amount = amount.Neg()
		} else if rng.Intn(5) == 0 {
			eventType = recon.SettlementRenewal
		}

		fee := amount.Abs().Mul(decimal.New(15, -2)).Round(2)
		records = append(records, recon.SettlementRecord{
			ID:             fmt.Sprintf("stl-%s-%s-%04d", platform, recon.DateKey(day), i),
			Platform:       platform,
			SettlementDate: day.Add(time.Duration(rng.Intn(24)) * time.Hour),
			TransactionID:  fmt.Sprintf("txn-%s-%04d", platform, i),
			ProductID:      fmt.Sprintf("product.tier%d", 1+rng.Intn(3)),
			SubscriptionID: fmt.Sprintf("sub-%s-%04d", platform, i),
			EventType:      eventType,
			Amount:         amount,
			Currency:       "USD",
			PlatformFee:    fee,
			NetAmount:      amount.Sub(fee.Mul(sign(amount))),
			UserID:         fmt.Sprintf("user-%04d", i),
			CountryCode:    "US",
			CreatedAt:      day,
		})
	}
	return records, nil
}

// FetchInternalEvents returns internal events mirroring the fixture
// settlements, with a small deterministic fraction left unmatched or shifted
// in time so discrepancy handling has real work.
func (s *StaticSource) FetchInternalEvents(ctx context.Context, platform string, date time.Time) ([]recon.InternalEvent, error) {
	settlements, err := s.FetchSettlements(ctx, platform, date)
	if err != nil {
		return nil, err
	}
	rng := s.rng(platform+"|events", date)

	events := make([]recon.InternalEvent, 0, len(settlements))
	for i, rec := range settlements {
		// Roughly one in twelve settlements has no internal record.
		if rng.Intn(12) == 0 {
			continue
		}

		// Most events share the settlement's transaction id; a few carry a
		// divergent id so pattern matching and missing-record handling see
		// real work.
		id := rec.TransactionID
		if rng.Intn(15) == 0 {
			id = fmt.Sprintf("evt-%s-%s-%04d", platform, recon.DateKey(date), i)
		}

		createdAt := rec.SettlementDate
		if rng.Intn(8) == 0 {
			createdAt = createdAt.Add(time.Duration(2+rng.Intn(4)) * time.Hour)
		}

		eventType := recon.EventPurchase
		switch rec.EventType {
		case recon.SettlementRenewal:
			eventType = recon.EventRenewal
		case recon.SettlementRefund:
			eventType = recon.EventRefund
		}

		processed := createdAt.Add(time.Minute)
		events = append(events, recon.InternalEvent{
			ID:             id,
			SubscriptionID: rec.SubscriptionID,
			PaymentID:      rec.TransactionID,
			EventType:      eventType,
			Platform:       platform,
			EventData: map[string]any{
				"amount":   rec.Amount,
				"currency": rec.Currency,
			},
			ProcessedAt: &processed,
			CreatedAt:   createdAt,
		})
	}
	return events, nil
}

func (s *StaticSource) rng(label string, date time.Time) *rand.Rand {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s", label, recon.DateKey(date))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

func sign(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}
