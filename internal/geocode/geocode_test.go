package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"

	"github.com/example/driver-session/internal/logging"
	"github.com/example/driver-session/internal/models"
)

type stubGeocoder struct {
	name string
	err  error
}

func (s stubGeocoder) Reverse(context.Context, models.GeoPoint) (string, error) {
	return s.name, s.err
}

func TestLabelFallback(t *testing.T) {
	ctx := context.Background()
	p := models.GeoPoint{Lat: 12.97, Lon: 77.59}
	cases := []struct {
		name string
		g    Geocoder
		want string
	}{
		{"nil geocoder", nil, UnknownLocation},
		{"error", stubGeocoder{err: errors.New("timeout")}, UnknownLocation},
		{"blank", stubGeocoder{name: "  "}, UnknownLocation},
		{"nop", Nop{}, UnknownLocation},
		{"resolved", stubGeocoder{name: "MG Road, Bengaluru"}, "MG Road, Bengaluru"},
	}
	for _, tc := range cases {
		if got := Label(ctx, tc.g, p, logging.Discard()); got != tc.want {
			t.Errorf("%s: label = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestNominatimReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("lat") != "12.97" || q.Get("lon") != "77.59" || q.Get("format") != "json" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("missing user agent")
		}
		_, _ = w.Write([]byte(`{"display_name":"Cubbon Park, Bengaluru"}`))
	}))
	defer srv.Close()

	n := NewNominatim(srv.URL).WithLimit(rate.Inf, 1)
	name, err := n.Reverse(context.Background(), models.GeoPoint{Lat: 12.97, Lon: 77.59})
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if name != "Cubbon Park, Bengaluru" {
		t.Fatalf("name = %q", name)
	}
}

func TestNominatimNoResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()

	n := NewNominatim(srv.URL).WithLimit(rate.Inf, 1)
	if _, err := n.Reverse(context.Background(), models.GeoPoint{}); !errors.Is(err, ErrNoResult) {
		t.Fatalf("err = %v, want ErrNoResult", err)
	}
	if got := Label(context.Background(), n, models.GeoPoint{}, nil); got != UnknownLocation {
		t.Fatalf("label = %q", got)
	}
}
