package route

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/example/driver-session/internal/models"
)

// GoogleDirections is a Directions backed by the Google Maps Directions API.
type GoogleDirections struct {
	client *maps.Client
}

func NewGoogleDirections(apiKey string) (*GoogleDirections, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleDirections{client: client}, nil
}

func (g *GoogleDirections) Leg(ctx context.Context, from, to models.GeoPoint) (Leg, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
	}
	routes, _, err := g.client.Directions(ctx, r)
	if err != nil {
		return Leg{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Leg{}, ErrNoRoute
	}

	points, err := routes[0].OverviewPolyline.Decode()
	if err != nil {
		return Leg{}, fmt.Errorf("decode polyline: %w", err)
	}
	leg := routes[0].Legs[0]
	out := Leg{
		DistanceMeters:  float64(leg.Distance.Meters),
		DurationSeconds: leg.Duration.Seconds(),
		Coords:          make([]models.GeoPoint, 0, len(points)),
	}
	for _, p := range points {
		out.Coords = append(out.Coords, models.GeoPoint{Lat: p.Lat, Lon: p.Lng})
	}
	return out, nil
}

func latLng(p models.GeoPoint) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}
