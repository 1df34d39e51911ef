package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/driver-session/internal/channel"
	"github.com/example/driver-session/internal/journal"
	"github.com/example/driver-session/internal/logging"
	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/payments"
	"github.com/example/driver-session/internal/storage"
	"github.com/example/driver-session/internal/traffic"
)

type published struct {
	dest string
	body []byte
}

type fakeTransport struct {
	msgs chan channel.RawMessage

	mu   sync.Mutex
	sent []published
	err  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{msgs: make(chan channel.RawMessage, 16)}
}

func (f *fakeTransport) Messages() <-chan channel.RawMessage { return f.msgs }

func (f *fakeTransport) Publish(dest string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	b, _ := json.Marshal(payload)
	f.sent = append(f.sent, published{dest: dest, body: b})
	return nil
}

func (f *fakeTransport) deliver(body string) {
	f.msgs <- channel.RawMessage{Destination: "/topic/driver/d-1", Body: []byte(body), ReceivedAt: time.Now()}
}

func (f *fakeTransport) sentTo(dest string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.sent {
		if p.dest == dest {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeTransport) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// fakeRouter returns one straight leg per waypoint pair. hold, when set,
// blocks every call until closed.
type fakeRouter struct {
	calls int32
	hold  chan struct{}
	err   error
}

func (f *fakeRouter) Compute(ctx context.Context, wps []models.GeoPoint) (models.RouteResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return models.RouteResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return models.RouteResult{}, f.err
	}
	var res models.RouteResult
	for i := 0; i+1 < len(wps); i++ {
		res.Legs = append(res.Legs, models.RouteLeg{
			Coords:          []models.GeoPoint{wps[i], wps[i+1]},
			Label:           wps[i].Label + " → " + wps[i+1].Label,
			DistanceMeters:  1000,
			DurationSeconds: 120,
		})
		res.TotalDistanceMeters += 1000
		res.TotalDurationSeconds += 120
	}
	return res, nil
}

type mockWallet struct {
	mu      sync.Mutex
	calls   int
	credits []float64
	err     error
}

func (m *mockWallet) Credit(_ context.Context, req payments.CreditRequest) (payments.CreditResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return payments.CreditResult{}, m.err
	}
	m.credits = append(m.credits, req.Amount)
	return payments.CreditResult{NewBalance: req.Amount}, nil
}

func (m *mockWallet) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockWallet) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type stubGeocoder struct{ name string }

func (g stubGeocoder) Reverse(context.Context, models.GeoPoint) (string, error) {
	if g.name == "" {
		return "", errors.New("no address")
	}
	return g.name, nil
}

type harness struct {
	s         *Session
	transport *fakeTransport
	router    *fakeRouter
	wallet    *mockWallet
	journal   *journal.Memory
	store     *storage.MemoryStore

	mu      sync.Mutex
	updates []Update
	cancel  context.CancelFunc
	runErr  chan error
}

type harnessOption func(*Deps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		router:    &fakeRouter{},
		wallet:    &mockWallet{},
		journal:   &journal.Memory{},
		store:     storage.NewMemoryStore(),
		runErr:    make(chan error, 1),
	}
	deps := Deps{
		Transport: h.transport,
		Router:    h.router,
		Simulator: traffic.NewSimulator(traffic.NewSource(7), 30*time.Second),
		Payments:  payments.NewGate(h.wallet, nil, time.Hour, logging.Discard()),
		Journal:   h.journal,
		Store:     h.store,
		Logger:    logging.Discard(),
		Tick:      time.Hour,
	}
	for _, o := range opts {
		o(&deps)
	}
	s, err := New(Driver{ID: "d-1", Name: "Ravi", Rating: 4.8}, deps)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	h.s = s

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- s.Run(ctx) }()
	go func() {
		for u := range s.Updates() {
			h.mu.Lock()
			h.updates = append(h.updates, u)
			h.mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return h
}

func (h *harness) waitFor(t *testing.T, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := h.s.Snapshot(); cond(snap) {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last snapshot %+v", what, h.s.Snapshot())
	return Snapshot{}
}

func (h *harness) sawUpdate(kind UpdateKind) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, u := range h.updates {
		if u.Kind == kind {
			return true
		}
	}
	return false
}

func (h *harness) waitForUpdate(t *testing.T, kind UpdateKind) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.sawUpdate(kind) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no %s update", kind)
}

func inState(st State) func(Snapshot) bool {
	return func(s Snapshot) bool { return s.State == st }
}

const ashaOffer = `{"message":"Your response (yes/no):","driverInfo":"Rider Asha, Fare: $120, Locationsrc: Latitude: 12.97, Longitude: 77.59, Stop: Latitude: 12.975, Longitude: 77.595, Locationdst: Latitude: 12.98, Longitude: 77.60"}`

// toOffer drives a fresh harness to OfferReceived with the Asha offer.
func (h *harness) toOffer(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.s.RequestTrip(ctx); err != nil {
		t.Fatalf("request trip: %v", err)
	}
	h.transport.deliver(ashaOffer)
	h.waitFor(t, "offer", inState(StateOfferReceived))
}

func (h *harness) toInProgress(t *testing.T) {
	t.Helper()
	h.toOffer(t)
	if _, err := h.s.Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
}

type fakeTracker struct {
	mu         sync.Mutex
	tracked    []models.GeoPoint
	forgot     int
	ops        []string
	delayFirst time.Duration
}

func (f *fakeTracker) Track(_ context.Context, _ string, p models.GeoPoint) error {
	f.mu.Lock()
	first := len(f.tracked) == 0 && f.delayFirst > 0
	f.mu.Unlock()
	if first {
		time.Sleep(f.delayFirst)
	}
	f.mu.Lock()
	f.tracked = append(f.tracked, p)
	f.ops = append(f.ops, "track "+p.String())
	f.mu.Unlock()
	return nil
}

func (f *fakeTracker) Forget(context.Context, string) error {
	f.mu.Lock()
	f.forgot++
	f.ops = append(f.ops, "forget")
	f.mu.Unlock()
	return nil
}
