package route

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/driver-session/internal/models"
)

// ErrNoRoute is returned when the provider answers but has no route
// between the two points.
var ErrNoRoute = errors.New("no route between points")

// Directions fetches one leg between two points.
type Directions interface {
	Leg(ctx context.Context, from, to models.GeoPoint) (Leg, error)
}

// Leg is a provider answer with coordinates already in (lat, lon) order.
type Leg struct {
	Coords          []models.GeoPoint
	DistanceMeters  float64
	DurationSeconds float64
}

// OSRMClient performs driving route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string, timeout time.Duration) *OSRMClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OSRMClient{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: timeout}}
}

// Leg queries /route/v1/driving with full GeoJSON geometry.
func (o *OSRMClient) Leg(ctx context.Context, from, to models.GeoPoint) (Leg, error) {
	// OSRM takes lon,lat pairs
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.Endpoint, from.Lon, from.Lat, to.Lon, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Leg{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return Leg{}, err
	}
	defer resp.Body.Close()

	var out struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Routes  []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Leg{}, fmt.Errorf("osrm decode (status %d): %w", resp.StatusCode, err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Leg{}, fmt.Errorf("%w: osrm %s %s", ErrNoRoute, out.Code, out.Message)
	}

	r := out.Routes[0]
	leg := Leg{DistanceMeters: r.Distance, DurationSeconds: r.Duration, Coords: make([]models.GeoPoint, 0, len(r.Geometry.Coordinates))}
	for _, c := range r.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		leg.Coords = append(leg.Coords, models.GeoPoint{Lat: c[1], Lon: c[0]})
	}
	return leg, nil
}
