package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/driver-session/internal/channel"
	"github.com/example/driver-session/internal/geocode"
	"github.com/example/driver-session/internal/models"
)

type commandKind int

const (
	cmdRequestTrip commandKind = iota
	cmdAccept
	cmdReject
	cmdEndTrip
	cmdRetryPayment
	cmdUpdateLocation
)

type command struct {
	kind  commandKind
	point models.GeoPoint
	reply chan commandReply
}

type commandReply struct {
	out Outcome
	err error
}

// createTripRequest is the body of the create-trip publish. Field names
// match what the backend reads.
type createTripRequest struct {
	Name    string   `json:"name"`
	ID      string   `json:"id"`
	FromLat *float64 `json:"fromlat"`
	FromLon *float64 `json:"fromlon"`
	Rating  float64  `json:"Rating"`
}

type driverResponse struct {
	Accepted bool `json:"accepted"`
}

// RequestTrip announces the driver as available: Idle -> Searching.
func (s *Session) RequestTrip(ctx context.Context) (Outcome, error) {
	return s.do(ctx, command{kind: cmdRequestTrip})
}

// Accept takes the current offer: OfferReceived -> InProgress.
func (s *Session) Accept(ctx context.Context) (Outcome, error) {
	return s.do(ctx, command{kind: cmdAccept})
}

// Reject declines the current offer and returns to Idle.
func (s *Session) Reject(ctx context.Context) (Outcome, error) {
	return s.do(ctx, command{kind: cmdReject})
}

// EndTrip completes the trip. It is refused until payment is confirmed.
func (s *Session) EndTrip(ctx context.Context) (Outcome, error) {
	return s.do(ctx, command{kind: cmdEndTrip})
}

// RetryPayment re-drives a failed wallet credit for the retained event.
func (s *Session) RetryPayment(ctx context.Context) (Outcome, error) {
	return s.do(ctx, command{kind: cmdRetryPayment})
}

// UpdateLocation records the driver's position.
func (s *Session) UpdateLocation(ctx context.Context, p models.GeoPoint) (Outcome, error) {
	return s.do(ctx, command{kind: cmdUpdateLocation, point: p})
}

func (s *Session) do(ctx context.Context, c command) (Outcome, error) {
	c.reply = make(chan commandReply, 1)
	select {
	case s.cmds <- c:
	case <-s.done:
		return Outcome{Snapshot: s.Snapshot()}, ErrSessionClosed
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	select {
	case r := <-c.reply:
		return r.out, r.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (s *Session) handleCommand(c command) commandReply {
	var (
		warnings []string
		err      error
	)
	switch c.kind {
	case cmdRequestTrip:
		warnings, err = s.requestTrip()
	case cmdAccept:
		warnings, err = s.accept()
	case cmdReject:
		warnings, err = s.reject()
	case cmdEndTrip:
		warnings, err = s.endTrip()
	case cmdRetryPayment:
		err = s.retryPayment()
	case cmdUpdateLocation:
		err = s.updateLocation(c.point)
	default:
		err = fmt.Errorf("unknown command %d", c.kind)
	}
	s.publishSnapshot()
	return commandReply{out: Outcome{Snapshot: s.Snapshot(), Warnings: warnings}, err: err}
}

func (s *Session) publish(destination string, payload any) []string {
	if err := s.transport.Publish(destination, payload); err != nil {
		return []string{s.warn("publish to %s failed: %v", destination, err)}
	}
	return nil
}

func (s *Session) requestTrip() ([]string, error) {
	if s.state != StateIdle {
		return nil, fmt.Errorf("%w: request trip in %s", ErrInvalidTransition, s.state)
	}
	s.gen++
	s.tripID = uuid.NewString()
	s.tripStarted = time.Now().UTC()
	s.tripCtx, s.tripCancel = context.WithCancel(s.runCtx)
	if err := s.transition(StateSearching, "trip requested"); err != nil {
		return nil, err
	}

	req := createTripRequest{Name: s.driver.Name, ID: s.driver.ID, Rating: s.driver.Rating}
	if s.location != nil {
		lat, lon := s.location.Lat, s.location.Lon
		req.FromLat, req.FromLon = &lat, &lon
	}
	return s.publish(channel.DestCreateTrip, req), nil
}

func (s *Session) accept() ([]string, error) {
	if s.state != StateOfferReceived {
		return nil, fmt.Errorf("%w: accept in %s", ErrInvalidTransition, s.state)
	}
	if err := s.transition(StateInProgress, "driver accepted"); err != nil {
		return nil, err
	}
	warnings := s.publish(channel.DestAccept, driverResponse{Accepted: true})
	s.startTicker()
	return warnings, nil
}

func (s *Session) reject() ([]string, error) {
	if s.state != StateOfferReceived {
		return nil, fmt.Errorf("%w: reject in %s", ErrInvalidTransition, s.state)
	}
	warnings := s.publish(channel.DestReject, driverResponse{Accepted: false})
	s.finish(StateRejected, "rejected", "driver rejected")
	return warnings, nil
}

func (s *Session) endTrip() ([]string, error) {
	if !s.paymentOK {
		return nil, ErrPaymentNotConfirmed
	}
	if s.state != StateInProgress {
		return nil, fmt.Errorf("%w: end trip in %s", ErrInvalidTransition, s.state)
	}
	warnings := s.publish(channel.DestEndTrip, struct{}{})
	s.finish(StateCompleted, "completed", "driver ended trip")
	return warnings, nil
}

func (s *Session) retryPayment() error {
	if s.state != StatePaymentPending || s.pendingPayment == nil {
		return ErrNoPendingPayment
	}
	if s.paymentInFlight {
		return ErrPaymentInFlight
	}
	s.drivePayment()
	return nil
}

func (s *Session) updateLocation(p models.GeoPoint) error {
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: %s", ErrInvalidLocation, p)
	}
	s.location = &p
	s.emit(Update{Kind: UpdateLocation, Message: p.String()})

	ctx := s.runCtx
	if s.geocoder != nil && p.Label == "" {
		g, logger := s.geocoder, s.logger
		go func() {
			s.post(locationLabel{point: p, label: geocode.Label(ctx, g, p, logger)})
		}()
	}
	s.rec.track(s.driver.ID, p)
	s.computeApproach()
	return nil
}
