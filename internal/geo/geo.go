package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/driver-session/internal/models"
)

// Tracker records a driver's latest position so the dispatch backend can
// find online drivers.
type Tracker interface {
	Track(ctx context.Context, driverID string, p models.GeoPoint) error
	Forget(ctx context.Context, driverID string) error
}

type Position struct {
	Point   models.GeoPoint
	Updated time.Time
}

// Index is an in-process Tracker.
type Index struct {
	mu        sync.RWMutex
	positions map[string]Position
}

func NewIndex() *Index {
	return &Index{positions: make(map[string]Position)}
}

func (g *Index) Track(_ context.Context, driverID string, p models.GeoPoint) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[driverID] = Position{Point: p, Updated: time.Now()}
	return nil
}

func (g *Index) Forget(_ context.Context, driverID string) error {
	g.mu.Lock()
	delete(g.positions, driverID)
	g.mu.Unlock()
	return nil
}

func (g *Index) Get(driverID string) (Position, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.positions[driverID]
	return p, ok
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

func Distance(a, b models.GeoPoint) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}
