package payments

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/driver-session/internal/logging"
	"github.com/example/driver-session/internal/models"
)

type mockWallet struct {
	calls   int32
	err     error
	balance float64
	block   chan struct{}
	last    CreditRequest
	mu      sync.Mutex
}

func (m *mockWallet) Credit(ctx context.Context, req CreditRequest) (CreditResult, error) {
	atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	m.last = req
	err := m.err
	m.mu.Unlock()
	if m.block != nil {
		<-m.block
	}
	if err != nil {
		return CreditResult{}, err
	}
	return CreditResult{NewBalance: m.balance + req.Amount}, nil
}

func (m *mockWallet) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockWallet) CallCount() int { return int(atomic.LoadInt32(&m.calls)) }

func confirmed(tripID string, amount float64) models.PaymentEvent {
	return models.PaymentEvent{TripID: tripID, DriverID: "d-1", Amount: amount, Confirmed: true}
}

func TestGateCreditsOnce(t *testing.T) {
	wallet := &mockWallet{balance: 10}
	gate := NewGate(wallet, nil, time.Hour, logging.Discard())

	res, err := gate.OnPaymentConfirmed(context.Background(), confirmed("t-1", 120))
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if res.Duplicate || res.NewBalance != 130 {
		t.Fatalf("unexpected result %+v", res)
	}
	if wallet.last.UserID != "d-1" || wallet.last.Amount != 120 || wallet.last.IdempotencyKey != "trip:t-1" {
		t.Fatalf("credit request = %+v", wallet.last)
	}

	for i := 0; i < 3; i++ {
		res, err = gate.OnPaymentConfirmed(context.Background(), confirmed("t-1", 120))
		if err != nil {
			t.Fatalf("redelivery %d: %v", i, err)
		}
		if !res.Duplicate {
			t.Fatalf("redelivery %d not flagged duplicate", i)
		}
	}
	if wallet.CallCount() != 1 {
		t.Fatalf("wallet called %d times, want 1", wallet.CallCount())
	}
}

func TestGateFailureThenRetry(t *testing.T) {
	wallet := &mockWallet{err: errors.New("dial tcp: connection refused")}
	gate := NewGate(wallet, nil, time.Hour, logging.Discard())
	ev := confirmed("t-2", 80)

	_, err := gate.OnPaymentConfirmed(context.Background(), ev)
	if !errors.Is(err, ErrCreditFailed) {
		t.Fatalf("err = %v, want ErrCreditFailed", err)
	}

	wallet.setErr(nil)
	res, err := gate.OnPaymentConfirmed(context.Background(), ev)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Duplicate {
		t.Fatalf("retry after failure must credit")
	}
	if wallet.CallCount() != 2 {
		t.Fatalf("wallet calls = %d, want 2", wallet.CallCount())
	}
}

func TestGateRejectsConcurrentAttempt(t *testing.T) {
	wallet := &mockWallet{block: make(chan struct{})}
	gate := NewGate(wallet, nil, time.Hour, logging.Discard())
	ev := confirmed("t-3", 50)

	errCh := make(chan error, 1)
	go func() {
		_, err := gate.OnPaymentConfirmed(context.Background(), ev)
		errCh <- err
	}()
	for wallet.CallCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	if _, err := gate.OnPaymentConfirmed(context.Background(), ev); !errors.Is(err, ErrInFlight) {
		t.Fatalf("err = %v, want ErrInFlight", err)
	}
	close(wallet.block)
	if err := <-errCh; err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if wallet.CallCount() != 1 {
		t.Fatalf("wallet calls = %d", wallet.CallCount())
	}
}

func TestGateRefusesUnconfirmedAndZero(t *testing.T) {
	wallet := &mockWallet{}
	gate := NewGate(wallet, nil, time.Hour, logging.Discard())

	ev := confirmed("t-4", 10)
	ev.Confirmed = false
	if _, err := gate.OnPaymentConfirmed(context.Background(), ev); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("err = %v", err)
	}
	if _, err := gate.OnPaymentConfirmed(context.Background(), confirmed("t-4", 0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v", err)
	}
	if wallet.CallCount() != 0 {
		t.Fatalf("wallet must not be called")
	}
}

func TestGateDistinctPaymentIDs(t *testing.T) {
	wallet := &mockWallet{}
	gate := NewGate(wallet, nil, time.Hour, logging.Discard())
	a := confirmed("t-5", 10)
	a.PaymentID = "p-a"
	b := a
	b.PaymentID = "p-b"

	for _, ev := range []models.PaymentEvent{a, b, a} {
		if _, err := gate.OnPaymentConfirmed(context.Background(), ev); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	if wallet.CallCount() != 2 {
		t.Fatalf("wallet calls = %d, want 2", wallet.CallCount())
	}
}

type ttlClaims struct {
	*MemoryClaims
	claimTTL, completeTTL time.Duration
}

func (c *ttlClaims) Claim(ctx context.Context, key string, ttl time.Duration) (ClaimState, error) {
	c.claimTTL = ttl
	return c.MemoryClaims.Claim(ctx, key, ttl)
}

func (c *ttlClaims) Complete(ctx context.Context, key string, ttl time.Duration) error {
	c.completeTTL = ttl
	return c.MemoryClaims.Complete(ctx, key, ttl)
}

func TestGatePendingClaimIsShortLived(t *testing.T) {
	claims := &ttlClaims{MemoryClaims: NewMemoryClaims()}
	g := NewGate(&mockWallet{}, claims, 24*time.Hour, logging.Discard())
	if _, err := g.OnPaymentConfirmed(context.Background(), confirmed("t1", 50)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if claims.claimTTL != DefaultPendingTTL {
		t.Fatalf("expected pending ttl %s, got %s", DefaultPendingTTL, claims.claimTTL)
	}
	if claims.completeTTL != 24*time.Hour {
		t.Fatalf("expected done ttl 24h, got %s", claims.completeTTL)
	}
}

func TestStalePendingClaimUnblocksRetry(t *testing.T) {
	claims := NewMemoryClaims()
	now := time.Unix(1700000000, 0)
	claims.now = func() time.Time { return now }
	g := NewGate(&mockWallet{}, claims, 24*time.Hour, logging.Discard())
	ev := confirmed("t1", 50)

	// a crashed attempt left the key pending
	if _, err := claims.Claim(context.Background(), ev.Key(), g.pendingTTL); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := g.OnPaymentConfirmed(context.Background(), ev); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected in-flight while pending, got %v", err)
	}
	now = now.Add(DefaultPendingTTL + time.Second)
	if _, err := g.OnPaymentConfirmed(context.Background(), ev); err != nil {
		t.Fatalf("expected retry after pending claim expired, got %v", err)
	}
}

func TestMemoryClaimsExpire(t *testing.T) {
	m := NewMemoryClaims()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if s, _ := m.Claim(ctx, "k", time.Minute); s != ClaimAcquired {
		t.Fatalf("state = %v", s)
	}
	if s, _ := m.Claim(ctx, "k", time.Minute); s != ClaimPending {
		t.Fatalf("state = %v", s)
	}
	_ = m.Complete(ctx, "k", time.Minute)
	if s, _ := m.Claim(ctx, "k", time.Minute); s != ClaimDone {
		t.Fatalf("state = %v", s)
	}
	now = now.Add(2 * time.Minute)
	if s, _ := m.Claim(ctx, "k", time.Minute); s != ClaimAcquired {
		t.Fatalf("expired claim should be reacquired, got %v", s)
	}
}

func TestToMinorUnits(t *testing.T) {
	if got := toMinorUnits(19.99); got != 1999 {
		t.Fatalf("minor units = %d", got)
	}
}
