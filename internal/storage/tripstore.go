package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/driver-session/internal/models"
)

// TripStore persists finished trips and the lifecycle event journal.
type TripStore interface {
	SaveTrip(ctx context.Context, t models.TripRecord) error
	// AppendEvent is idempotent on event ID so redelivered events are harmless.
	AppendEvent(ctx context.Context, ev models.TripEvent) error
	RecentTrips(ctx context.Context, driverID string, limit int) ([]models.TripRecord, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	trips  map[string]models.TripRecord
	events map[string]models.TripEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trips: make(map[string]models.TripRecord), events: make(map[string]models.TripEvent)}
}

func (m *MemoryStore) SaveTrip(_ context.Context, t models.TripRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[t.ID] = t
	return nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, ev models.TripEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.ID]; !ok {
		m.events[ev.ID] = ev
	}
	return nil
}

func (m *MemoryStore) RecentTrips(_ context.Context, driverID string, limit int) ([]models.TripRecord, error) {
	m.mu.RLock()
	out := make([]models.TripRecord, 0, len(m.trips))
	for _, t := range m.trips {
		if driverID == "" || t.DriverID == driverID {
			out = append(out, t)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Get(id string) (models.TripRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	return t, ok
}

// Events returns a trip's events ordered by time.
func (m *MemoryStore) Events(tripID string) []models.TripEvent {
	m.mu.RLock()
	var out []models.TripEvent
	for _, ev := range m.events {
		if ev.TripID == tripID {
			out = append(out, ev)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
