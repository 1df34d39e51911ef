// Package traffic assigns synthetic congestion to route legs and advances
// a simulated vehicle one leg per tick.
package traffic

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/example/driver-session/internal/models"
)

// Source yields uniform draws in [0, 1).
type Source interface {
	Float64() float64
}

// lockedSource makes a *rand.Rand safe for concurrent Assign calls.
type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// NewSource seeds a generator; seed 0 uses the clock.
func NewSource(seed int64) Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedSource{r: rand.New(rand.NewSource(seed))}
}

// Draw maps a uniform value to a level: below 0.40 low, below 0.75
// medium, otherwise high.
func Draw(u float64) models.TrafficLevel {
	switch {
	case u < 0.40:
		return models.TrafficLow
	case u < 0.75:
		return models.TrafficMedium
	default:
		return models.TrafficHigh
	}
}

func DelayFactor(l models.TrafficLevel) float64 {
	switch l {
	case models.TrafficMedium:
		return 1.5
	case models.TrafficHigh:
		return 2.0
	default:
		return 1.0
	}
}

type Simulator struct {
	src      Source
	baseUnit time.Duration
}

// NewSimulator uses baseUnit as the undelayed time to cover one leg.
func NewSimulator(src Source, baseUnit time.Duration) *Simulator {
	if src == nil {
		src = NewSource(0)
	}
	if baseUnit <= 0 {
		baseUnit = 30 * time.Second
	}
	return &Simulator{src: src, baseUnit: baseUnit}
}

// Assign draws one level per leg and returns a route positioned at its
// first leg. The input route is not modified.
func (s *Simulator) Assign(route models.RouteResult) SimulatedRoute {
	legs := make([]models.RouteLeg, len(route.Legs))
	copy(legs, route.Legs)
	for i := range legs {
		legs[i].Traffic = Draw(s.src.Float64())
	}
	out := route
	out.Legs = legs
	return SimulatedRoute{Route: out, baseUnit: s.baseUnit}
}

// SimulatedRoute is a value; Tick returns the next state rather than
// editing the receiver.
type SimulatedRoute struct {
	Route    models.RouteResult
	Current  int
	baseUnit time.Duration
}

func (r SimulatedRoute) Empty() bool { return len(r.Route.Legs) == 0 }

// AtEnd reports that the vehicle is on the last leg.
func (r SimulatedRoute) AtEnd() bool { return r.Current >= len(r.Route.Legs)-1 }

// Tick moves to the next leg and returns the new state with its ETA.
// On the last leg it is a no-op.
func (r SimulatedRoute) Tick() (SimulatedRoute, time.Duration) {
	if !r.Empty() && !r.AtEnd() {
		r.Current++
	}
	return r, r.ETA()
}

// ETA is remaining legs times the current leg's delay times the base unit.
func (r SimulatedRoute) ETA() time.Duration {
	if r.Empty() {
		return 0
	}
	remaining := len(r.Route.Legs) - r.Current
	factor := DelayFactor(r.Route.Legs[r.Current].Traffic)
	return time.Duration(float64(remaining) * factor * float64(r.baseUnit))
}

func (r SimulatedRoute) CurrentLeg() (models.RouteLeg, bool) {
	if r.Empty() {
		return models.RouteLeg{}, false
	}
	return r.Route.Legs[r.Current], true
}

// FormatETA renders an ETA in minutes with one decimal.
func FormatETA(d time.Duration) string {
	return fmt.Sprintf("%.1f min", d.Minutes())
}
