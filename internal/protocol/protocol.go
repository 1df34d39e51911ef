// Package protocol decodes inbound driver-topic payloads into a closed set
// of message types. Versioned envelopes carry a "type" field; anything
// without one is handed to the legacy text shim.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/driver-session/internal/models"
)

var (
	// ErrUnknownMessage is returned for well-formed JSON that is none of
	// the known message kinds.
	ErrUnknownMessage = errors.New("unknown message kind")
	// ErrMalformed is returned when the body is not valid JSON or a
	// required field is missing.
	ErrMalformed = errors.New("malformed message")
	// ErrUnsupportedVersion is returned for envelopes newer than this decoder.
	ErrUnsupportedVersion = errors.New("unsupported message version")
)

const CurrentVersion = 1

type Kind string

const (
	KindOffer     Kind = "offer"
	KindPayment   Kind = "payment"
	KindRideEnded Kind = "ride_ended"
)

// Message is implemented only by the types in this package.
type Message interface {
	Kind() Kind
	sealed()
}

// OfferMessage carries a parsed ride offer. PickupKnown and DropoffKnown
// are false when the sender left the location out; such an offer can be
// shown but not routed.
type OfferMessage struct {
	Offer        models.RideOffer
	Prompt       string
	PickupKnown  bool
	DropoffKnown bool
	Legacy       bool
}

func (m OfferMessage) Routable() bool { return m.PickupKnown && m.DropoffKnown }

type PaymentMessage struct {
	PaymentID string
	TripID    string
	Amount    float64
	// AmountKnown is false for legacy payment envelopes, which carry only
	// the confirmation flag; the offer fare is used instead.
	AmountKnown bool
	Confirmed   bool
	Legacy      bool
}

type RideEndedMessage struct {
	Reason string
	Legacy bool
}

func (OfferMessage) Kind() Kind     { return KindOffer }
func (PaymentMessage) Kind() Kind   { return KindPayment }
func (RideEndedMessage) Kind() Kind { return KindRideEnded }

func (OfferMessage) sealed()     {}
func (PaymentMessage) sealed()   {}
func (RideEndedMessage) sealed() {}

type envelope struct {
	Type    string       `json:"type"`
	Version int          `json:"version"`
	Offer   *offerBody   `json:"offer"`
	Payment *paymentBody `json:"payment"`
	Reason  string       `json:"reason"`

	// legacy fields
	Message    json.RawMessage `json:"message"`
	DriverInfo *string         `json:"driverInfo"`
	PaymentID  string          `json:"paymentId"`
	TripID     string          `json:"tripId"`
	Amount     *float64        `json:"amount"`
}

type offerBody struct {
	RiderName string      `json:"rider_name"`
	Fare      *float64    `json:"fare"`
	Pickup    *pointBody  `json:"pickup"`
	Dropoff   *pointBody  `json:"dropoff"`
	Stops     []pointBody `json:"stops"`
	Prompt    string      `json:"prompt"`
}

type pointBody struct {
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Label string   `json:"label"`
}

type paymentBody struct {
	PaymentID string   `json:"payment_id"`
	TripID    string   `json:"trip_id"`
	Amount    *float64 `json:"amount"`
	Confirmed bool     `json:"confirmed"`
}

// Decode is the single entry point for inbound payloads.
func Decode(raw []byte) (Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return decodeLegacy(env)
	}
	if env.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: %s v%d", ErrUnsupportedVersion, env.Type, env.Version)
	}

	switch Kind(env.Type) {
	case KindOffer:
		if env.Offer == nil {
			return nil, fmt.Errorf("%w: offer body missing", ErrMalformed)
		}
		return env.Offer.toMessage()
	case KindPayment:
		if env.Payment == nil {
			return nil, fmt.Errorf("%w: payment body missing", ErrMalformed)
		}
		p := env.Payment
		msg := PaymentMessage{PaymentID: p.PaymentID, TripID: p.TripID, Confirmed: p.Confirmed}
		if p.Amount != nil {
			if *p.Amount < 0 {
				return nil, fmt.Errorf("%w: negative amount", ErrMalformed)
			}
			msg.Amount, msg.AmountKnown = *p.Amount, true
		}
		return msg, nil
	case KindRideEnded:
		return RideEndedMessage{Reason: env.Reason}, nil
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnknownMessage, env.Type)
	}
}

func (b offerBody) toMessage() (Message, error) {
	pickup, pickupOK, err := b.Pickup.point("pickup")
	if err != nil {
		return nil, err
	}
	dropoff, dropoffOK, err := b.Dropoff.point("dropoff")
	if err != nil {
		return nil, err
	}
	offer := models.RideOffer{RiderName: b.RiderName, Pickup: pickup, Dropoff: dropoff}
	if offer.RiderName == "" {
		offer.RiderName = UnknownRider
	}
	if b.Fare != nil {
		offer.Fare = *b.Fare
	}
	for i := range b.Stops {
		s, ok, err := b.Stops[i].point(fmt.Sprintf("stops[%d]", i))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: stops[%d] has no coordinates", ErrMalformed, i)
		}
		offer.Stops = append(offer.Stops, s)
	}
	return OfferMessage{Offer: offer, Prompt: b.Prompt, PickupKnown: pickupOK, DropoffKnown: dropoffOK}, nil
}

func (p *pointBody) point(field string) (models.GeoPoint, bool, error) {
	if p == nil || (p.Lat == nil && p.Lon == nil) {
		return models.GeoPoint{}, false, nil
	}
	if p.Lat == nil || p.Lon == nil {
		return models.GeoPoint{}, false, fmt.Errorf("%w: %s needs both lat and lon", ErrMalformed, field)
	}
	pt := models.GeoPoint{Lat: *p.Lat, Lon: *p.Lon, Label: p.Label}
	if pt.Lat < -90 || pt.Lat > 90 || pt.Lon < -180 || pt.Lon > 180 {
		return models.GeoPoint{}, false, fmt.Errorf("%w: %s out of range", ErrMalformed, field)
	}
	return pt, true, nil
}
