// Package session drives one driver's trip lifecycle. Every input (channel
// messages, driver commands, route and payment results, traffic ticks) is
// applied by a single goroutine in Run, so transitions never interleave.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/driver-session/internal/channel"
	"github.com/example/driver-session/internal/geo"
	"github.com/example/driver-session/internal/geocode"
	"github.com/example/driver-session/internal/journal"
	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/payments"
	"github.com/example/driver-session/internal/traffic"
)

// Transport is the pub/sub side the session needs.
type Transport interface {
	Messages() <-chan channel.RawMessage
	Publish(destination string, payload any) error
}

type Router interface {
	Compute(ctx context.Context, waypoints []models.GeoPoint) (models.RouteResult, error)
}

type PaymentGate interface {
	OnPaymentConfirmed(ctx context.Context, ev models.PaymentEvent) (payments.Unlocked, error)
}

type Driver struct {
	ID     string
	Name   string
	Rating float64
}

// Deps are the collaborators of a session. Transport, Router and Payments
// are required.
type Deps struct {
	Transport Transport
	Router    Router
	Simulator *traffic.Simulator
	Payments  PaymentGate
	Geocoder  geocode.Geocoder
	Journal   journal.Journal
	Store     TripSaver
	Tracker   geo.Tracker
	Logger    *slog.Logger
	// Tick is the vehicle advance interval.
	Tick          time.Duration
	UpdatesBuffer int
}

type Session struct {
	driver    Driver
	transport Transport
	router    Router
	sim       *traffic.Simulator
	gate      PaymentGate
	geocoder  geocode.Geocoder
	tracker   geo.Tracker
	rec       *recorder
	logger    *slog.Logger
	tick      time.Duration

	cmds    chan command
	results chan any
	updates chan Update
	done    chan struct{}
	once    sync.Once

	snapMu sync.RWMutex
	snap   Snapshot

	// fields below are owned by the Run goroutine
	runCtx          context.Context
	state           State
	gen             uint64
	tripID          string
	tripStarted     time.Time
	tripCtx         context.Context
	tripCancel      context.CancelFunc
	offer           *models.RideOffer
	routable        bool
	route           *models.RouteResult
	approach        *models.RouteResult
	approachPending bool
	simRoute        *traffic.SimulatedRoute
	eta             time.Duration
	ticker          *time.Ticker
	paymentOK       bool
	pendingPayment  *models.PaymentEvent
	paymentInFlight bool
	paymentErr      string
	location        *models.GeoPoint
}

func New(driver Driver, deps Deps) (*Session, error) {
	if driver.ID == "" {
		return nil, errors.New("session: driver id is required")
	}
	if deps.Transport == nil || deps.Router == nil || deps.Payments == nil {
		return nil, errors.New("session: transport, router and payments are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session", "driver_id", driver.ID)
	if deps.Simulator == nil {
		deps.Simulator = traffic.NewSimulator(nil, 0)
	}
	if deps.Tick <= 0 {
		deps.Tick = time.Second
	}
	if deps.UpdatesBuffer <= 0 {
		deps.UpdatesBuffer = 64
	}
	s := &Session{
		driver:    driver,
		transport: deps.Transport,
		router:    deps.Router,
		sim:       deps.Simulator,
		gate:      deps.Payments,
		geocoder:  deps.Geocoder,
		tracker:   deps.Tracker,
		rec:       newRecorder(deps.Journal, deps.Store, deps.Tracker, logger),
		logger:    logger,
		tick:      deps.Tick,
		cmds:      make(chan command),
		results:   make(chan any, 16),
		updates:   make(chan Update, deps.UpdatesBuffer),
		done:      make(chan struct{}),
		state:     StateIdle,
	}
	s.publishSnapshot()
	return s, nil
}

// Updates is closed when Run returns.
func (s *Session) Updates() <-chan Update { return s.updates }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Run applies events until ctx is cancelled or the transport's message
// stream closes. It may be called once.
func (s *Session) Run(ctx context.Context) error {
	first := false
	s.once.Do(func() { first = true })
	if !first {
		return errors.New("session: Run called twice")
	}
	s.runCtx = ctx
	defer s.teardown()
	inbound := s.transport.Messages()
	s.logger.Info("session started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session stopping", "reason", ctx.Err())
			return ctx.Err()
		case raw, ok := <-inbound:
			if !ok {
				s.logger.Info("channel closed, resetting session")
				if s.state != StateIdle {
					s.reset("disconnected")
				}
				return nil
			}
			s.handleMessage(raw)
		case c := <-s.cmds:
			c.reply <- s.handleCommand(c)
		case r := <-s.results:
			s.handleResult(r)
		case <-s.tickC():
			s.handleTick()
		}
		s.publishSnapshot()
	}
}

func (s *Session) teardown() {
	s.stopTicker()
	if s.tripCancel != nil {
		s.tripCancel()
	}
	// Queued positions land before the driver is removed.
	s.rec.close()
	if s.tracker != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.runCtx), 3*time.Second)
		if err := s.tracker.Forget(ctx, s.driver.ID); err != nil {
			s.logger.Warn("remove driver position", "error", err)
		}
		cancel()
	}
	s.publishSnapshot()
	close(s.done)
	close(s.updates)
	s.logger.Info("session stopped")
}

// post hands an async result to the event loop unless it has stopped.
func (s *Session) post(r any) {
	select {
	case s.results <- r:
	case <-s.done:
	}
}

func (s *Session) emit(u Update) {
	u.State = s.state
	if u.TripID == "" {
		u.TripID = s.tripID
	}
	u.At = time.Now()
	select {
	case s.updates <- u:
	default:
		s.logger.Debug("update dropped, no reader", "kind", u.Kind)
	}
}

func (s *Session) warn(msg string, args ...any) string {
	text := fmt.Sprintf(msg, args...)
	s.logger.Warn(text)
	s.emit(Update{Kind: UpdateWarning, Message: text})
	return text
}

// transition applies one edge of the lifecycle and journals it.
func (s *Session) transition(to State, reason string) error {
	from := s.state
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.state = to
	observeTransition(from, to)
	s.rec.event(models.TripEvent{
		ID:       uuid.NewString(),
		TripID:   s.tripID,
		DriverID: s.driver.ID,
		From:     string(from),
		To:       string(to),
		Reason:   reason,
		At:       time.Now().UTC(),
	})
	s.logger.Info("trip transition", "trip_id", s.tripID, "from", from, "to", to, "reason", reason)
	s.emit(Update{Kind: UpdateState, Message: reason})
	return nil
}

// finish records the trip, passes through the terminal state and resets.
func (s *Session) finish(terminal State, status, reason string) {
	if err := s.transition(terminal, reason); err != nil {
		s.logger.Error("finish trip", "error", err)
		return
	}
	s.rec.trip(s.tripRecord(status))
	s.reset(reason)
}

// reset tears down everything owned by the current trip and returns to Idle.
func (s *Session) reset(reason string) {
	s.stopTicker()
	if s.tripCancel != nil {
		s.tripCancel()
		s.tripCancel = nil
	}
	if s.state != StateIdle {
		if err := s.transition(StateIdle, reason); err != nil {
			s.logger.Error("reset", "error", err)
			s.state = StateIdle
		}
	}
	s.gen++
	s.tripID = ""
	s.tripCtx = nil
	s.offer = nil
	s.routable = false
	s.route = nil
	s.approach = nil
	s.approachPending = false
	s.simRoute = nil
	s.eta = 0
	s.paymentOK = false
	s.pendingPayment = nil
	s.paymentInFlight = false
	s.paymentErr = ""
}

func (s *Session) tripRecord(status string) models.TripRecord {
	rec := models.TripRecord{
		ID:               s.tripID,
		DriverID:         s.driver.ID,
		PaymentConfirmed: s.paymentOK,
		Status:           status,
		CreatedAt:        s.tripStarted,
		FinishedAt:       time.Now().UTC(),
	}
	if s.offer != nil {
		rec.RiderName = s.offer.RiderName
		rec.Fare = s.offer.Fare
		rec.Pickup = s.offer.Pickup
		rec.Dropoff = s.offer.Dropoff
		rec.Stops = len(s.offer.Stops)
	}
	if s.route != nil {
		rec.DistanceMeters = s.route.TotalDistanceMeters
		rec.DurationSeconds = s.route.TotalDurationSeconds
	}
	return rec
}

func (s *Session) tickC() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C
}

// startTicker runs only while the vehicle is on a routed trip.
func (s *Session) startTicker() {
	if s.ticker != nil || s.simRoute == nil || s.simRoute.AtEnd() || !s.state.onTrip() {
		return
	}
	s.ticker = time.NewTicker(s.tick)
	s.logger.Debug("traffic ticker started", "trip_id", s.tripID)
}

func (s *Session) stopTicker() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.ticker = nil
	s.logger.Debug("traffic ticker stopped", "trip_id", s.tripID)
}

func (s *Session) handleTick() {
	if s.simRoute == nil || !s.state.onTrip() {
		s.stopTicker()
		return
	}
	next, eta := s.simRoute.Tick()
	s.simRoute = &next
	s.eta = eta
	observeTick()
	s.emit(Update{Kind: UpdateETA, CurrentLeg: next.Current, ETA: eta, Message: traffic.FormatETA(eta)})
	if next.AtEnd() {
		s.stopTicker()
	}
}

func (s *Session) publishSnapshot() {
	snap := Snapshot{
		DriverID:         s.driver.ID,
		TripID:           s.tripID,
		State:            s.state,
		Routable:         s.routable,
		PaymentConfirmed: s.paymentOK,
		PaymentInFlight:  s.paymentInFlight,
		PaymentError:     s.paymentErr,
		Route:            s.route,
		Approach:         s.approach,
		ETA:              s.eta,
		TickerRunning:    s.ticker != nil,
		UpdatedAt:        time.Now(),
	}
	if s.offer != nil {
		o := *s.offer
		snap.Offer = &o
	}
	if s.simRoute != nil {
		snap.CurrentLeg = s.simRoute.Current
		r := s.simRoute.Route
		snap.Route = &r
	}
	if s.location != nil {
		loc := *s.location
		snap.DriverLocation = &loc
		if s.offer != nil && s.routable {
			d := geo.Distance(loc, s.offer.Pickup)
			snap.DistanceToPickup = &d
		}
	}
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
}
