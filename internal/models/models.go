package models

import (
	"fmt"
	"time"
)

// GeoPoint is a WGS84 coordinate. Label is filled lazily by reverse
// geocoding and may be empty.
type GeoPoint struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Label string  `json:"label,omitempty"`
}

func (p GeoPoint) WithLabel(label string) GeoPoint {
	p.Label = label
	return p
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// RideOffer is built once from an inbound offer message and never
// mutated afterwards; label resolution produces a copy.
type RideOffer struct {
	RiderName string     `json:"rider_name"`
	Fare      float64    `json:"fare"`
	Pickup    GeoPoint   `json:"pickup"`
	Dropoff   GeoPoint   `json:"dropoff"`
	Stops     []GeoPoint `json:"stops,omitempty"`
}

// Waypoints returns [pickup, stops..., dropoff] with display names
// defaulted to Pickup, Stop N and Destination.
func (o RideOffer) Waypoints() []GeoPoint {
	out := make([]GeoPoint, 0, len(o.Stops)+2)
	out = append(out, o.Pickup.WithLabel("Pickup"))
	for i, s := range o.Stops {
		if s.Label == "" {
			s.Label = fmt.Sprintf("Stop %d", i+1)
		}
		out = append(out, s)
	}
	return append(out, o.Dropoff.WithLabel("Destination"))
}

// WithLabels returns a copy of the offer with resolved place names.
func (o RideOffer) WithLabels(pickup, dropoff string) RideOffer {
	cp := o
	cp.Stops = append([]GeoPoint(nil), o.Stops...)
	cp.Pickup.Label = pickup
	cp.Dropoff.Label = dropoff
	return cp
}

type TrafficLevel string

const (
	TrafficLow    TrafficLevel = "low"
	TrafficMedium TrafficLevel = "medium"
	TrafficHigh   TrafficLevel = "high"
)

type RouteLeg struct {
	Coords          []GeoPoint   `json:"coords"`
	Label           string       `json:"label"`
	DistanceMeters  float64      `json:"distance_meters"`
	DurationSeconds float64      `json:"duration_seconds"`
	Traffic         TrafficLevel `json:"traffic,omitempty"`
}

// LegFailure records a leg whose directions lookup failed and was left
// out of the route.
type LegFailure struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Err   string `json:"error"`
}

// RouteResult is replaced wholesale on recomputation, never edited.
type RouteResult struct {
	Legs                 []RouteLeg   `json:"legs"`
	TotalDistanceMeters  float64      `json:"total_distance_meters"`
	TotalDurationSeconds float64      `json:"total_duration_seconds"`
	Failures             []LegFailure `json:"failures,omitempty"`
}

// Polyline concatenates the legs' coordinates in leg order.
func (r RouteResult) Polyline() []GeoPoint {
	var out []GeoPoint
	for _, l := range r.Legs {
		out = append(out, l.Coords...)
	}
	return out
}

// PaymentEvent is consumed at most once per trip.
type PaymentEvent struct {
	PaymentID string  `json:"payment_id,omitempty"`
	TripID    string  `json:"trip_id"`
	DriverID  string  `json:"driver_id"`
	Amount    float64 `json:"amount"`
	Confirmed bool    `json:"confirmed"`
}

// Key identifies the logical payment. Without an explicit payment id a
// trip may be credited once.
func (e PaymentEvent) Key() string {
	if e.PaymentID != "" {
		return "payment:" + e.PaymentID
	}
	return "trip:" + e.TripID
}

// TripEvent is one applied lifecycle transition.
type TripEvent struct {
	ID       string    `json:"id"`
	TripID   string    `json:"trip_id"`
	DriverID string    `json:"driver_id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// TripRecord is the persisted summary of a finished trip.
type TripRecord struct {
	ID               string    `json:"id"`
	DriverID         string    `json:"driver_id"`
	RiderName        string    `json:"rider_name"`
	Fare             float64   `json:"fare"`
	Pickup           GeoPoint  `json:"pickup"`
	Dropoff          GeoPoint  `json:"dropoff"`
	Stops            int       `json:"stops"`
	DistanceMeters   float64   `json:"distance_meters"`
	DurationSeconds  float64   `json:"duration_seconds"`
	PaymentConfirmed bool      `json:"payment_confirmed"`
	Status           string    `json:"status"` // completed, ended_by_backend, rejected
	CreatedAt        time.Time `json:"created_at"`
	FinishedAt       time.Time `json:"finished_at"`
}
