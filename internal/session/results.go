package session

import (
	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/payments"
)

// Async results are stamped with the trip generation that asked for them;
// anything from an earlier trip is discarded.
type routeResult struct {
	gen      uint64
	approach bool
	res      models.RouteResult
	err      error
}

type paymentResult struct {
	gen uint64
	res payments.Unlocked
	err error
}

type labelsResult struct {
	gen             uint64
	pickup, dropoff string
}

type locationLabel struct {
	point models.GeoPoint
	label string
}

func (s *Session) handleResult(r any) {
	switch r := r.(type) {
	case routeResult:
		if r.gen != s.gen {
			s.logger.Debug("discarding route from earlier trip")
			return
		}
		if r.approach {
			s.onApproach(r)
			return
		}
		s.onRoute(r)
	case paymentResult:
		if r.gen != s.gen {
			s.logger.Debug("discarding payment result from earlier trip")
			return
		}
		s.onPaymentResult(r)
	case labelsResult:
		if r.gen != s.gen || s.offer == nil {
			return
		}
		labelled := s.offer.WithLabels(r.pickup, r.dropoff)
		s.offer = &labelled
	case locationLabel:
		if s.location == nil || s.location.Lat != r.point.Lat || s.location.Lon != r.point.Lon {
			return
		}
		loc := s.location.WithLabel(r.label)
		s.location = &loc
		s.emit(Update{Kind: UpdateLocation, Message: r.label})
	}
}

func (s *Session) onRoute(r routeResult) {
	if r.err != nil {
		s.warn("route unavailable: %v", r.err)
		return
	}
	res := r.res
	s.route = &res
	if len(res.Failures) > 0 {
		s.warn("%d of %d route legs unavailable", len(res.Failures), len(res.Failures)+len(res.Legs))
	}
	sim := s.sim.Assign(res)
	if sim.Empty() {
		return
	}
	s.simRoute = &sim
	s.eta = sim.ETA()
	s.emit(Update{Kind: UpdateRoute, Route: &sim.Route, ETA: s.eta})
	s.startTicker()
}

func (s *Session) onApproach(r routeResult) {
	s.approachPending = false
	if r.err != nil {
		s.warn("route to pickup unavailable: %v", r.err)
		return
	}
	res := r.res
	s.approach = &res
	s.emit(Update{Kind: UpdateRoute, Route: &res, Message: "approach"})
}

func (s *Session) onPaymentResult(r paymentResult) {
	s.paymentInFlight = false
	if r.err != nil {
		s.paymentErr = r.err.Error()
		s.logger.Error("payment not credited, end trip stays locked", "trip_id", s.tripID, "error", r.err)
		s.emit(Update{Kind: UpdatePaymentError, Message: s.paymentErr})
		return
	}
	if s.state != StatePaymentPending {
		s.logger.Warn("payment credited outside payment pending", "state", s.state)
		return
	}
	s.paymentOK = true
	s.pendingPayment = nil
	s.paymentErr = ""
	reason := "payment credited"
	if r.res.Duplicate {
		reason = "payment already credited"
	}
	if err := s.transition(StateInProgress, reason); err != nil {
		s.logger.Error("payment transition", "error", err)
	}
}
