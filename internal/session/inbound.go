package session

import (
	"github.com/example/driver-session/internal/channel"
	"github.com/example/driver-session/internal/geocode"
	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/protocol"
)

// handleMessage decodes one transport message. Undecodable messages are
// dropped and never change state.
func (s *Session) handleMessage(raw channel.RawMessage) {
	msg, err := protocol.Decode(raw.Body)
	if err != nil {
		observeDropped("parse")
		s.logger.Warn("dropping inbound message", "destination", raw.Destination, "bytes", len(raw.Body), "error", err)
		return
	}
	observeReceived(msg.Kind())

	switch m := msg.(type) {
	case protocol.OfferMessage:
		s.onOffer(m)
	case protocol.PaymentMessage:
		s.onPayment(m)
	case protocol.RideEndedMessage:
		s.onRideEnded(m)
	}
}

func (s *Session) onOffer(m protocol.OfferMessage) {
	switch s.state {
	case StateSearching:
	case StateIdle:
		observeDropped("no_trip_requested")
		s.logger.Warn("offer received without a trip request, dropping", "rider", m.Offer.RiderName)
		return
	default:
		observeDropped("offer_mid_trip")
		s.warn("offer from %s ignored while %s", m.Offer.RiderName, s.state)
		return
	}

	offer := m.Offer
	s.offer = &offer
	s.routable = m.Routable()
	if err := s.transition(StateOfferReceived, "offer from "+offer.RiderName); err != nil {
		s.logger.Error("offer transition", "error", err)
		return
	}
	if !s.routable {
		s.warn("offer from %s has no pickup or dropoff location, route unavailable", offer.RiderName)
		return
	}
	s.computeRoute(offer.Waypoints())
	s.computeApproach()
	s.resolveOfferLabels(offer)
}

func (s *Session) onPayment(m protocol.PaymentMessage) {
	if !m.Confirmed {
		s.warn("payment notice received without confirmation")
		return
	}
	if s.paymentOK {
		observeDropped("duplicate_payment")
		s.logger.Info("payment already confirmed for trip, ignoring redelivery", "trip_id", s.tripID)
		return
	}
	if m.TripID != "" && s.tripID != "" && m.TripID != s.tripID {
		observeDropped("stale_payment")
		s.logger.Warn("payment for another trip, dropping", "trip_id", s.tripID, "payment_trip_id", m.TripID)
		return
	}

	switch s.state {
	case StateInProgress:
		amount := m.Amount
		if !m.AmountKnown && s.offer != nil {
			amount = s.offer.Fare
		}
		s.pendingPayment = &models.PaymentEvent{
			PaymentID: m.PaymentID,
			TripID:    s.tripID,
			DriverID:  s.driver.ID,
			Amount:    amount,
			Confirmed: true,
		}
		if err := s.transition(StatePaymentPending, "payment confirmed by backend"); err != nil {
			s.logger.Error("payment transition", "error", err)
			return
		}
		s.drivePayment()
	case StatePaymentPending:
		if s.paymentInFlight {
			s.logger.Info("payment credit already running, ignoring redelivery", "trip_id", s.tripID)
			return
		}
		s.drivePayment()
	default:
		observeDropped("payment_out_of_state")
		s.warn("payment notice ignored while %s", s.state)
	}
}

func (s *Session) onRideEnded(m protocol.RideEndedMessage) {
	if s.state == StateIdle {
		observeDropped("ride_ended_idle")
		s.logger.Info("ride ended received with no trip, ignoring")
		return
	}
	tripID := s.tripID
	reason := m.Reason
	if reason == "" {
		reason = protocol.RideEndedText
	}
	s.finish(StateCompleted, "ended_by_backend", reason)
	s.emit(Update{Kind: UpdateRatingPrompt, TripID: tripID, Message: "How was your rider?"})
}

func (s *Session) computeRoute(waypoints []models.GeoPoint) {
	gen, ctx, router := s.gen, s.tripCtx, s.router
	go func() {
		res, err := router.Compute(ctx, waypoints)
		s.post(routeResult{gen: gen, res: res, err: err})
	}()
}

// computeApproach routes the driver to the pickup once both are known.
func (s *Session) computeApproach() {
	if s.location == nil || s.offer == nil || !s.routable || s.approach != nil || s.approachPending {
		return
	}
	if s.state != StateOfferReceived && !s.state.onTrip() {
		return
	}
	s.approachPending = true
	from := s.location.WithLabel("You")
	to := s.offer.Pickup.WithLabel("Pickup")
	gen, ctx, router := s.gen, s.tripCtx, s.router
	go func() {
		res, err := router.Compute(ctx, []models.GeoPoint{from, to})
		s.post(routeResult{gen: gen, approach: true, res: res, err: err})
	}()
}

func (s *Session) resolveOfferLabels(offer models.RideOffer) {
	if s.geocoder == nil {
		return
	}
	gen, ctx, g, logger := s.gen, s.tripCtx, s.geocoder, s.logger
	go func() {
		pickup := geocode.Label(ctx, g, offer.Pickup, logger)
		dropoff := geocode.Label(ctx, g, offer.Dropoff, logger)
		s.post(labelsResult{gen: gen, pickup: pickup, dropoff: dropoff})
	}()
}

func (s *Session) drivePayment() {
	ev := *s.pendingPayment
	gen, ctx, gate := s.gen, s.tripCtx, s.gate
	s.paymentInFlight = true
	s.paymentErr = ""
	go func() {
		res, err := gate.OnPaymentConfirmed(ctx, ev)
		s.post(paymentResult{gen: gen, res: res, err: err})
	}()
}
