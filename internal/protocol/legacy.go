package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/example/driver-session/internal/models"
)

// Literals sent by the backend in the legacy "message" field.
const (
	OfferPrompt   = "Your response (yes/no):"
	RideEndedText = "Ride ended"
	UnknownRider  = "Unknown"
)

var (
	riderRe   = regexp.MustCompile(`Rider (.*?)(,|$)`)
	fareRe    = regexp.MustCompile(`Fare: \$([0-9.]+)`)
	pickupRe  = regexp.MustCompile(`Locationsrc: Latitude:\s*(-?[0-9.]+),\s*Longitude:\s*(-?[0-9.]+)`)
	dropoffRe = regexp.MustCompile(`Locationdst: Latitude:\s*(-?[0-9.]+),\s*Longitude:\s*(-?[0-9.]+)`)
	stopRe    = regexp.MustCompile(`Stop: Latitude:\s*(-?[0-9.]+),\s*Longitude:\s*(-?[0-9.]+)`)
)

// decodeLegacy maps the untyped backend envelope onto the message types.
// A boolean "message" is a payment notice, "Ride ended" ends the ride and a
// driverInfo blob or the offer prompt is an offer.
func decodeLegacy(env envelope) (Message, error) {
	if b, ok := legacyBool(env.Message); ok {
		msg := PaymentMessage{PaymentID: env.PaymentID, TripID: env.TripID, Confirmed: b, Legacy: true}
		if env.Amount != nil {
			msg.Amount, msg.AmountKnown = *env.Amount, true
		}
		return msg, nil
	}

	text, _ := legacyString(env.Message)
	if text == RideEndedText {
		return RideEndedMessage{Reason: text, Legacy: true}, nil
	}
	if env.DriverInfo != nil || text == OfferPrompt {
		info := ""
		if env.DriverInfo != nil {
			info = *env.DriverInfo
		}
		msg := ParseDriverInfo(info)
		msg.Prompt = text
		return msg, nil
	}
	if len(env.Message) == 0 {
		return nil, fmt.Errorf("%w: no message, driverInfo or type", ErrUnknownMessage)
	}
	return nil, fmt.Errorf("%w: message %s", ErrUnknownMessage, bytes.TrimSpace(env.Message))
}

// ParseDriverInfo extracts an offer from the informal driverInfo text.
// Missing rider and fare fall back to "Unknown" and 0; missing locations
// leave the offer unroutable.
func ParseDriverInfo(info string) OfferMessage {
	offer := models.RideOffer{RiderName: UnknownRider}
	if m := riderRe.FindStringSubmatch(info); m != nil && m[1] != "" {
		offer.RiderName = m[1]
	}
	if m := fareRe.FindStringSubmatch(info); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			offer.Fare = f
		}
	}
	msg := OfferMessage{Legacy: true}
	offer.Pickup, msg.PickupKnown = matchPoint(pickupRe.FindStringSubmatch(info))
	offer.Dropoff, msg.DropoffKnown = matchPoint(dropoffRe.FindStringSubmatch(info))
	for _, m := range stopRe.FindAllStringSubmatch(info, -1) {
		if p, ok := matchPoint(m); ok {
			offer.Stops = append(offer.Stops, p)
		}
	}
	msg.Offer = offer
	return msg
}

func matchPoint(m []string) (models.GeoPoint, bool) {
	if m == nil {
		return models.GeoPoint{}, false
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lon, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return models.GeoPoint{}, false
	}
	return models.GeoPoint{Lat: lat, Lon: lon}, true
}

func legacyBool(raw json.RawMessage) (bool, bool) {
	var b bool
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || json.Unmarshal(raw, &b) != nil {
		return false, false
	}
	return b, true
}

func legacyString(raw json.RawMessage) (string, bool) {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return s, true
}
