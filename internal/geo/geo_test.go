package geo

import (
	"context"
	"math"
	"testing"

	"github.com/example/driver-session/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceKnownPair(t *testing.T) {
	// one degree of latitude is about 111.2 km
	d := Distance(models.GeoPoint{Lat: 12, Lon: 77}, models.GeoPoint{Lat: 13, Lon: 77})
	if math.Abs(d-111195) > 100 {
		t.Fatalf("distance = %.0f m", d)
	}
}

func TestIndexTrackAndForget(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	_ = idx.Track(ctx, "d-1", models.GeoPoint{Lat: 1, Lon: 2})
	p, ok := idx.Get("d-1")
	if !ok || p.Point.Lat != 1 || p.Updated.IsZero() {
		t.Fatalf("position = %+v, %v", p, ok)
	}
	_ = idx.Forget(ctx, "d-1")
	if _, ok := idx.Get("d-1"); ok {
		t.Fatalf("expected driver to be forgotten")
	}
}
