package payments

import (
	"context"
	"math"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/customerbalancetransaction"
)

// StripeWallet credits a driver's Stripe customer balance. Drivers map to
// Stripe customer IDs through CustomerFor, identity by default.
type StripeWallet struct {
	Currency    string
	CustomerFor func(driverID string) string
}

// NewStripeWallet sets the package-level stripe key.
func NewStripeWallet(apiKey, currency string) *StripeWallet {
	stripe.Key = apiKey
	if currency == "" {
		currency = "inr"
	}
	return &StripeWallet{Currency: currency, CustomerFor: func(id string) string { return id }}
}

// Credit posts a negative balance transaction, which Stripe treats as
// credit owed to the customer. The payment key is sent as the Stripe
// idempotency key.
func (s *StripeWallet) Credit(ctx context.Context, req CreditRequest) (CreditResult, error) {
	params := &stripe.CustomerBalanceTransactionParams{
		Customer:    stripe.String(s.CustomerFor(req.UserID)),
		Amount:      stripe.Int64(-toMinorUnits(req.Amount)),
		Currency:    stripe.String(s.Currency),
		Description: stripe.String("trip earnings"),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	txn, err := customerbalancetransaction.New(params)
	if err != nil {
		return CreditResult{}, err
	}
	// a negative ending balance is money owed to the driver
	return CreditResult{NewBalance: -float64(txn.EndingBalance) / 100}, nil
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
