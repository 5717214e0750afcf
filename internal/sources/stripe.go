package sources

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/balancetransaction"

	"github.com/paymentops/reconciler/internal/recon"
)

const stripePlatform = "stripe"

// StripeSource fetches settlement records from the Stripe balance
// transaction ledger. It serves the "stripe" platform only.
type StripeSource struct {
	pageLimit int64
}

// NewStripeSource configures the global Stripe client and returns a
// settlement source backed by it.
func NewStripeSource(apiKey string) *StripeSource {
	stripe.Key = apiKey
	return &StripeSource{pageLimit: 100}
}

// FetchSettlements lists the balance transactions created on the given UTC
// day and maps them to settlement records.
func (s *StripeSource) FetchSettlements(ctx context.Context, platform string, date time.Time) ([]recon.SettlementRecord, error) {
	if platform != stripePlatform {
		return nil, &ProviderError{Provider: "stripe", Op: "list balance transactions",
			Err: errors.New("unsupported platform " + platform)}
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	params := &stripe.BalanceTransactionListParams{
		CreatedRange: &stripe.RangeQueryParams{
			GreaterThanOrEqual: dayStart.Unix(),
			LesserThan:         dayStart.Add(24 * time.Hour).Unix(),
		},
	}
	params.Context = ctx
	params.Limit = stripe.Int64(s.pageLimit)

	var records []recon.SettlementRecord
	it := balancetransaction.List(params)
	for it.Next() {
		if rec, ok := mapBalanceTransaction(it.BalanceTransaction()); ok {
			records = append(records, rec)
		}
	}
	if err := it.Err(); err != nil {
		return nil, &ProviderError{
			Provider:  "stripe",
			Op:        "list balance transactions",
			Err:       err,
			Transient: stripeTransient(err),
		}
	}
	return records, nil
}

// mapBalanceTransaction converts one ledger entry. Fee-only and payout
// entries carry no transaction to reconcile and are skipped.
func mapBalanceTransaction(bt *stripe.BalanceTransaction) (recon.SettlementRecord, bool) {
	eventType, ok := settlementType(bt.Type)
	if !ok {
		return recon.SettlementRecord{}, false
	}

	txnID := bt.ID
	if bt.Source != nil && bt.Source.ID != "" {
		txnID = bt.Source.ID
	}

	amount := decimal.New(bt.Amount, -2)
	fee := decimal.New(bt.Fee, -2)
	return recon.SettlementRecord{
		ID:             bt.ID,
		Platform:       stripePlatform,
		SettlementDate: time.Unix(bt.Created, 0).UTC(),
		TransactionID:  txnID,
		EventType:      eventType,
		Amount:         amount,
		Currency:       string(bt.Currency),
		PlatformFee:    fee,
		NetAmount:      decimal.New(bt.Net, -2),
		CreatedAt:      time.Unix(bt.Created, 0).UTC(),
	}, true
}

func settlementType(t stripe.BalanceTransactionType) (recon.SettlementEventType, bool) {
	switch t {
	case stripe.BalanceTransactionTypeCharge, stripe.BalanceTransactionTypePayment:
		return recon.SettlementPurchase, true
	case stripe.BalanceTransactionTypeRefund, stripe.BalanceTransactionTypePaymentRefund:
		return recon.SettlementRefund, true
	case stripe.BalanceTransactionTypeAdjustment:
		return recon.SettlementChargeback, true
	default:
		return "", false
	}
}

// stripeTransient treats rate limits and server-side failures as worth
// retrying. Auth and request errors are not.
func stripeTransient(err error) bool {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		return sErr.HTTPStatusCode == http.StatusTooManyRequests || sErr.HTTPStatusCode >= 500
	}
	return true
}
