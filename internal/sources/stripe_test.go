package sources

import (
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v81"

	"github.com/paymentops/reconciler/internal/recon"
)

func TestMapBalanceTransaction(t *testing.T) {
	created := time.Date(2025, 6, 1, 15, 4, 5, 0, time.UTC)

	bt := &stripe.BalanceTransaction{
		ID:       "txn_1",
		Type:     stripe.BalanceTransactionTypeCharge,
		Amount:   2499,
		Fee:      102,
		Net:      2397,
		Currency: stripe.CurrencyUSD,
		Created:  created.Unix(),
		Source:   &stripe.BalanceTransactionSource{ID: "ch_abc"},
	}

	rec, ok := mapBalanceTransaction(bt)
	if !ok {
		t.Fatal("charge must map to a settlement record")
	}
	if rec.EventType != recon.SettlementPurchase {
		t.Errorf("eventType = %s, want %s", rec.EventType, recon.SettlementPurchase)
	}
	if rec.TransactionID != "ch_abc" {
		t.Errorf("transactionId = %s, want source id ch_abc", rec.TransactionID)
	}
	if rec.Amount.String() != "24.99" {
		t.Errorf("amount = %s, want 24.99", rec.Amount)
	}
	if rec.PlatformFee.String() != "1.02" || rec.NetAmount.String() != "23.97" {
		t.Errorf("fee/net = %s/%s, want 1.02/23.97", rec.PlatformFee, rec.NetAmount)
	}
	if !rec.SettlementDate.Equal(created) {
		t.Errorf("settlementDate = %v, want %v", rec.SettlementDate, created)
	}
}

func TestMapBalanceTransaction_TypeMapping(t *testing.T) {
	tests := []struct {
		btType stripe.BalanceTransactionType
		want   recon.SettlementEventType
		ok     bool
	}{
		{stripe.BalanceTransactionTypeCharge, recon.SettlementPurchase, true},
		{stripe.BalanceTransactionTypePayment, recon.SettlementPurchase, true},
		{stripe.BalanceTransactionTypeRefund, recon.SettlementRefund, true},
		{stripe.BalanceTransactionTypePaymentRefund, recon.SettlementRefund, true},
		{stripe.BalanceTransactionTypeAdjustment, recon.SettlementChargeback, true},
		{stripe.BalanceTransactionTypePayout, "", false},
		{stripe.BalanceTransactionTypeStripeFee, "", false},
	}

	for _, tt := range tests {
		rec, ok := mapBalanceTransaction(&stripe.BalanceTransaction{ID: "txn_x", Type: tt.btType})
		if ok != tt.ok {
			t.Errorf("%s: mapped = %v, want %v", tt.btType, ok, tt.ok)
			continue
		}
		if ok && rec.EventType != tt.want {
			t.Errorf("%s: eventType = %s, want %s", tt.btType, rec.EventType, tt.want)
		}
	}
}

func TestStripeTransient(t *testing.T) {
	if !stripeTransient(&stripe.Error{HTTPStatusCode: 500}) {
		t.Error("server errors should be retryable")
	}
	if !stripeTransient(&stripe.Error{HTTPStatusCode: 429}) {
		t.Error("rate limits should be retryable")
	}
	if stripeTransient(&stripe.Error{HTTPStatusCode: 401}) {
		t.Error("auth errors should not be retryable")
	}
	if !stripeTransient(errors.New("connection reset")) {
		t.Error("plain network errors should be retryable")
	}
}

func TestProviderError(t *testing.T) {
	inner := errors.New("boom")
	err := &ProviderError{Provider: "stripe", Op: "list", Err: inner, Transient: true}

	if !errors.Is(err, inner) {
		t.Error("provider error must unwrap to its cause")
	}

	var r interface{ Retryable() bool }
	if !errors.As(error(err), &r) || !r.Retryable() {
		t.Error("transient provider error must report retryable")
	}
}
