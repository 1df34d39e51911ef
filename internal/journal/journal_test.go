package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/driver-session/internal/models"
)

func TestEncodeDecode(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := models.TripEvent{ID: "e1", TripID: "t1", DriverID: "d1", From: "searching", To: "offer_received", Reason: "offer", At: at}
	b, err := Encode(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != ev.ID || got.TripID != ev.TripID || got.To != ev.To || got.Reason != ev.Reason || !got.At.Equal(at) {
		t.Fatalf("got %+v, want %+v", got, ev)
	}
}

func TestRoutingKey(t *testing.T) {
	if k := RoutingKey(models.TripEvent{To: "completed"}); k != "trip.completed" {
		t.Fatalf("routing key = %q", k)
	}
}

func TestMemoryKeepsOrder(t *testing.T) {
	m := &Memory{}
	for _, to := range []string{"searching", "offer_received", "in_progress"} {
		_ = m.Record(context.Background(), models.TripEvent{To: to})
	}
	evs := m.Events()
	if len(evs) != 3 || evs[0].To != "searching" || evs[2].To != "in_progress" {
		t.Fatalf("events = %+v", evs)
	}
}

type failing struct{}

func (failing) Record(context.Context, models.TripEvent) error { return errors.New("down") }
func (failing) Close() error                                   { return nil }

func TestTeeRecordsToAll(t *testing.T) {
	a, b := &Memory{}, &Memory{}
	tee := Tee{a, failing{}, b}
	err := tee.Record(context.Background(), models.TripEvent{ID: "e-1"})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("expected both memories to record, got %d and %d", len(a.Events()), len(b.Events()))
	}
}

func TestMessageKeyIsDriver(t *testing.T) {
	a := messageKey(models.TripEvent{TripID: "t1", DriverID: "d1"})
	b := messageKey(models.TripEvent{TripID: "t2", DriverID: "d1"})
	if string(a) != "d1" || string(a) != string(b) {
		t.Fatalf("events of one driver must share a key, got %q and %q", a, b)
	}
}
