package session

import (
	"time"

	"github.com/example/driver-session/internal/models"
)

// Snapshot is a read-only copy of the session taken after the last
// applied event.
type Snapshot struct {
	DriverID         string              `json:"driver_id"`
	TripID           string              `json:"trip_id,omitempty"`
	State            State               `json:"state"`
	Offer            *models.RideOffer   `json:"offer,omitempty"`
	Routable         bool                `json:"routable"`
	PaymentConfirmed bool                `json:"payment_confirmed"`
	PaymentInFlight  bool                `json:"payment_in_flight"`
	PaymentError     string              `json:"payment_error,omitempty"`
	Route            *models.RouteResult `json:"route,omitempty"`
	Approach         *models.RouteResult `json:"approach,omitempty"`
	CurrentLeg       int                 `json:"current_leg"`
	ETA              time.Duration       `json:"eta"`
	TickerRunning    bool                `json:"ticker_running"`
	DriverLocation   *models.GeoPoint    `json:"driver_location,omitempty"`
	// DistanceToPickup is the straight-line distance in meters, set when
	// both the driver location and an offer are known.
	DistanceToPickup *float64  `json:"distance_to_pickup,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CanEndTrip reports whether EndTrip would be accepted.
func (s Snapshot) CanEndTrip() bool {
	return s.State == StateInProgress && s.PaymentConfirmed
}

type UpdateKind string

const (
	UpdateState        UpdateKind = "state"
	UpdateRoute        UpdateKind = "route"
	UpdateETA          UpdateKind = "eta"
	UpdatePaymentError UpdateKind = "payment_error"
	UpdateRatingPrompt UpdateKind = "rating_prompt"
	UpdateWarning      UpdateKind = "warning"
	UpdateLocation     UpdateKind = "location"
)

// Update is pushed to UI clients. Consumers that fall behind lose updates
// but can always read a fresh Snapshot.
type Update struct {
	Kind       UpdateKind          `json:"kind"`
	State      State               `json:"state"`
	TripID     string              `json:"trip_id,omitempty"`
	Message    string              `json:"message,omitempty"`
	Route      *models.RouteResult `json:"route,omitempty"`
	CurrentLeg int                 `json:"current_leg,omitempty"`
	ETA        time.Duration       `json:"eta,omitempty"`
	At         time.Time           `json:"at"`
}

// Outcome is returned by every driver command. Warnings carry non-fatal
// problems such as a publish while disconnected.
type Outcome struct {
	Snapshot Snapshot `json:"snapshot"`
	Warnings []string `json:"warnings,omitempty"`
}
