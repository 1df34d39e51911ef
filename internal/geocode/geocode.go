// Package geocode resolves coordinates to display names. Lookups are best
// effort: callers use Label, which never fails.
package geocode

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/example/driver-session/internal/models"
)

const UnknownLocation = "Unknown location"

var ErrNoResult = errors.New("no address for location")

type Geocoder interface {
	Reverse(ctx context.Context, p models.GeoPoint) (string, error)
}

// Label resolves p or falls back to UnknownLocation. A nil geocoder
// always falls back.
func Label(ctx context.Context, g Geocoder, p models.GeoPoint, logger *slog.Logger) string {
	if g == nil {
		return UnknownLocation
	}
	name, err := g.Reverse(ctx, p)
	name = strings.TrimSpace(name)
	if err != nil || name == "" {
		if logger != nil && err != nil {
			logger.Debug("reverse geocode failed", "point", p.String(), "error", err)
		}
		return UnknownLocation
	}
	return name
}

// Nop never resolves anything.
type Nop struct{}

func (Nop) Reverse(context.Context, models.GeoPoint) (string, error) { return "", ErrNoResult }
