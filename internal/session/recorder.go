package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-session/internal/geo"
	"github.com/example/driver-session/internal/journal"
	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/observability"
)

// TripSaver persists finished trips.
type TripSaver interface {
	SaveTrip(ctx context.Context, t models.TripRecord) error
}

// recorder writes journal events, trip records and tracked positions from a
// single worker so they leave in the order the session produced them without
// blocking the event loop.
type recorder struct {
	journal journal.Journal
	store   TripSaver
	tracker geo.Tracker
	logger  *slog.Logger
	timeout time.Duration

	queue chan func(context.Context)
	wg    sync.WaitGroup
}

func newRecorder(j journal.Journal, store TripSaver, tracker geo.Tracker, logger *slog.Logger) *recorder {
	if j == nil {
		j = journal.Nop{}
	}
	r := &recorder{journal: j, store: store, tracker: tracker, logger: logger, timeout: 5 * time.Second, queue: make(chan func(context.Context), 256)}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *recorder) loop() {
	defer r.wg.Done()
	for job := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		job(ctx)
		cancel()
	}
}

func (r *recorder) enqueue(job func(context.Context)) {
	select {
	case r.queue <- job:
	default:
		observability.JournalEvents.WithLabelValues("dropped").Inc()
		r.logger.Warn("recorder queue full, dropping write")
	}
}

func (r *recorder) event(ev models.TripEvent) {
	r.enqueue(func(ctx context.Context) {
		if err := r.journal.Record(ctx, ev); err != nil {
			r.logger.Warn("journal record failed", "trip_id", ev.TripID, "to", ev.To, "error", err)
		}
	})
}

func (r *recorder) trip(t models.TripRecord) {
	if r.store == nil {
		return
	}
	r.enqueue(func(ctx context.Context) {
		if err := r.store.SaveTrip(ctx, t); err != nil {
			r.logger.Error("save trip failed", "trip_id", t.ID, "error", err)
		}
	})
}

func (r *recorder) track(driverID string, p models.GeoPoint) {
	if r.tracker == nil {
		return
	}
	r.enqueue(func(ctx context.Context) {
		if err := r.tracker.Track(ctx, driverID, p); err != nil {
			r.logger.Warn("track driver position", "error", err)
		}
	})
}

// close drains queued writes.
func (r *recorder) close() {
	close(r.queue)
	r.wg.Wait()
}
