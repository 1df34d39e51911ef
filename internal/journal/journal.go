// Package journal ships trip lifecycle events to a message bus so other
// services can project them.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/example/driver-session/internal/models"
)

type Journal interface {
	Record(ctx context.Context, ev models.TripEvent) error
	Close() error
}

// Encode is the wire form shared by every sink and by the consumer.
func Encode(ev models.TripEvent) ([]byte, error) { return json.Marshal(ev) }

func Decode(b []byte) (models.TripEvent, error) {
	var ev models.TripEvent
	err := json.Unmarshal(b, &ev)
	return ev, err
}

type Nop struct{}

func (Nop) Record(context.Context, models.TripEvent) error { return nil }
func (Nop) Close() error                                   { return nil }

// Memory keeps events in order; used in tests and local runs.
type Memory struct {
	mu     sync.Mutex
	events []models.TripEvent
}

func (m *Memory) Record(_ context.Context, ev models.TripEvent) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Events() []models.TripEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TripEvent(nil), m.events...)
}

// Tee records every event to all journals and joins their errors.
type Tee []Journal

func (t Tee) Record(ctx context.Context, ev models.TripEvent) error {
	var errs []error
	for _, j := range t {
		if err := j.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t Tee) Close() error {
	var errs []error
	for _, j := range t {
		if err := j.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
