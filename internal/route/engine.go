// Package route assembles a multi-stop route from per-leg directions
// lookups. Legs are fetched concurrently and placed by waypoint index.
package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/observability"
)

var ErrTooFewWaypoints = errors.New("route needs at least two waypoints")

const defaultParallel = 4

type Engine struct {
	dir        Directions
	cache      *Cache
	legTimeout time.Duration
	parallel   int
	logger     *slog.Logger
}

type Option func(*Engine)

func WithCache(c *Cache) Option { return func(e *Engine) { e.cache = c } }

// WithLegTimeout bounds each directions call.
func WithLegTimeout(d time.Duration) Option { return func(e *Engine) { e.legTimeout = d } }

func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallel = n
		}
	}
}

func NewEngine(dir Directions, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{dir: dir, parallel: defaultParallel, logger: logger.With("component", "route")}
	for _, o := range opts {
		o(e)
	}
	return e
}

// LegLabel names a leg after its endpoints.
func LegLabel(from, to models.GeoPoint) string {
	return pointName(from) + " → " + pointName(to)
}

func pointName(p models.GeoPoint) string {
	if p.Label != "" {
		return p.Label
	}
	return p.String()
}

type legOutcome struct {
	leg Leg
	err error
}

// Compute fetches every consecutive waypoint pair. A failed leg is left
// out and reported in Failures; only too few waypoints or a cancelled
// context fail the whole call.
func (e *Engine) Compute(ctx context.Context, waypoints []models.GeoPoint) (models.RouteResult, error) {
	if len(waypoints) < 2 {
		return models.RouteResult{}, fmt.Errorf("%w: got %d", ErrTooFewWaypoints, len(waypoints))
	}
	start := time.Now()
	defer func() { observability.RouteComputeSeconds.Observe(time.Since(start).Seconds()) }()

	outcomes := make([]legOutcome, len(waypoints)-1)
	g := new(errgroup.Group)
	g.SetLimit(e.parallel)
	for i := range outcomes {
		from, to := waypoints[i], waypoints[i+1]
		g.Go(func() error {
			outcomes[i] = e.fetch(ctx, from, to)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return models.RouteResult{}, err
	}

	var res models.RouteResult
	for i, o := range outcomes {
		label := LegLabel(waypoints[i], waypoints[i+1])
		if o.err != nil {
			observability.RouteLegs.WithLabelValues("failed").Inc()
			e.logger.Warn("route leg skipped", "leg", i, "label", label, "error", o.err)
			res.Failures = append(res.Failures, models.LegFailure{Index: i, Label: label, Err: o.err.Error()})
			continue
		}
		observability.RouteLegs.WithLabelValues("ok").Inc()
		res.Legs = append(res.Legs, models.RouteLeg{
			Coords:          o.leg.Coords,
			Label:           label,
			DistanceMeters:  o.leg.DistanceMeters,
			DurationSeconds: o.leg.DurationSeconds,
		})
		res.TotalDistanceMeters += o.leg.DistanceMeters
		res.TotalDurationSeconds += o.leg.DurationSeconds
	}
	return res, nil
}

func (e *Engine) fetch(ctx context.Context, from, to models.GeoPoint) legOutcome {
	if leg, ok := e.cache.Get(from, to); ok {
		return legOutcome{leg: leg}
	}
	if e.legTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.legTimeout)
		defer cancel()
	}
	leg, err := e.dir.Leg(ctx, from, to)
	if err != nil {
		return legOutcome{err: err}
	}
	e.cache.Set(from, to, leg)
	return legOutcome{leg: leg}
}
