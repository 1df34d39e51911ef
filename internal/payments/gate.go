// Package payments unlocks trip completion once a confirmed payment has
// been credited to the driver's wallet exactly once.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/observability"
)

var (
	// ErrNotConfirmed is returned for payment notices that do not confirm payment.
	ErrNotConfirmed = errors.New("payment not confirmed")

	// ErrInvalidAmount is returned when there is nothing positive to credit.
	ErrInvalidAmount = errors.New("invalid payment amount")

	// ErrCreditFailed wraps any wallet-credit failure. The payment stays actionable.
	ErrCreditFailed = errors.New("wallet credit failed")

	// ErrInFlight is returned while another attempt for the same payment is running.
	ErrInFlight = errors.New("payment credit already in flight")
)

// CreditRequest is one wallet-credit call.
type CreditRequest struct {
	UserID         string
	Amount         float64
	IdempotencyKey string
}

type CreditResult struct {
	NewBalance float64
}

// Wallet is the external wallet-credit operation.
type Wallet interface {
	Credit(ctx context.Context, req CreditRequest) (CreditResult, error)
}

// Unlocked is returned once the trip may be completed. Duplicate is set
// when the payment had already been credited and no call was made.
type Unlocked struct {
	Key        string
	NewBalance float64
	Duplicate  bool
}

// DefaultPendingTTL bounds how long an in-flight claim blocks retries if
// the process dies between claiming and crediting.
const DefaultPendingTTL = 2 * time.Minute

type Gate struct {
	wallet     Wallet
	claims     ClaimStore
	ttl        time.Duration
	pendingTTL time.Duration
	logger     *slog.Logger
}

func NewGate(wallet Wallet, claims ClaimStore, ttl time.Duration, logger *slog.Logger) *Gate {
	if claims == nil {
		claims = NewMemoryClaims()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		wallet:     wallet,
		claims:     claims,
		ttl:        ttl,
		pendingTTL: min(ttl, DefaultPendingTTL),
		logger:     logger.With("component", "payment_gate"),
	}
}

// OnPaymentConfirmed credits the wallet for ev at most once per ev.Key().
// On failure the claim is released so the same event can be retried.
func (g *Gate) OnPaymentConfirmed(ctx context.Context, ev models.PaymentEvent) (Unlocked, error) {
	if !ev.Confirmed {
		return Unlocked{}, ErrNotConfirmed
	}
	if ev.Amount <= 0 {
		return Unlocked{}, fmt.Errorf("%w: %.2f", ErrInvalidAmount, ev.Amount)
	}
	key := ev.Key()
	log := g.logger.With("payment_key", key, "trip_id", ev.TripID)

	state, err := g.claims.Claim(ctx, key, g.pendingTTL)
	if err != nil {
		return Unlocked{}, fmt.Errorf("claim %s: %w", key, err)
	}
	switch state {
	case ClaimDone:
		observability.WalletCredits.WithLabelValues("duplicate").Inc()
		log.Info("payment already credited, skipping wallet call")
		return Unlocked{Key: key, Duplicate: true}, nil
	case ClaimPending:
		return Unlocked{}, fmt.Errorf("%w: %s", ErrInFlight, key)
	}

	res, err := g.wallet.Credit(ctx, CreditRequest{UserID: ev.DriverID, Amount: ev.Amount, IdempotencyKey: key})
	if err != nil {
		observability.WalletCredits.WithLabelValues("failed").Inc()
		// release even if ctx is already cancelled
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := g.claims.Release(relCtx, key); rerr != nil {
			log.Error("release payment claim", "error", rerr)
		}
		log.Error("wallet credit failed", "amount", ev.Amount, "error", err)
		return Unlocked{}, fmt.Errorf("%w: %w", ErrCreditFailed, err)
	}

	if err := g.claims.Complete(ctx, key, g.ttl); err != nil {
		// credited; the wallet dedupes on the same key if this marker is lost
		log.Warn("mark payment credited", "error", err)
	}
	observability.WalletCredits.WithLabelValues("ok").Inc()
	log.Info("wallet credited", "amount", ev.Amount, "new_balance", res.NewBalance)
	return Unlocked{Key: key, NewBalance: res.NewBalance}, nil
}
