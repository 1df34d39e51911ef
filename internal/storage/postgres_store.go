package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	_ "github.com/lib/pq"

	"github.com/example/driver-session/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies the embedded schema files in name order. Every file is
// written to be re-runnable.
func (p *PostgresStore) Migrate(ctx context.Context) ([]string, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return names, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) SaveTrip(ctx context.Context, t models.TripRecord) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO trips(id, driver_id, rider_name, fare, pickup_lat, pickup_lon, pickup_label, dropoff_lat, dropoff_lon, dropoff_label, stops, distance_meters, duration_seconds, payment_confirmed, status, created_at, finished_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, payment_confirmed=EXCLUDED.payment_confirmed, finished_at=EXCLUDED.finished_at`,
		t.ID, t.DriverID, t.RiderName, t.Fare,
		t.Pickup.Lat, t.Pickup.Lon, t.Pickup.Label,
		t.Dropoff.Lat, t.Dropoff.Lon, t.Dropoff.Label,
		t.Stops, t.DistanceMeters, t.DurationSeconds, t.PaymentConfirmed, t.Status, t.CreatedAt, t.FinishedAt)
	return err
}

func (p *PostgresStore) AppendEvent(ctx context.Context, ev models.TripEvent) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO trip_events(id, trip_id, driver_id, from_state, to_state, reason, at) VALUES($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.TripID, ev.DriverID, ev.From, ev.To, ev.Reason, ev.At)
	return err
}

func (p *PostgresStore) RecentTrips(ctx context.Context, driverID string, limit int) ([]models.TripRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, driver_id, rider_name, fare, pickup_lat, pickup_lon, COALESCE(pickup_label,''), dropoff_lat, dropoff_lon, COALESCE(dropoff_label,''), stops, distance_meters, duration_seconds, payment_confirmed, status, created_at, finished_at
		FROM trips WHERE driver_id=$1 ORDER BY finished_at DESC LIMIT $2`, driverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TripRecord
	for rows.Next() {
		var t models.TripRecord
		if err := rows.Scan(&t.ID, &t.DriverID, &t.RiderName, &t.Fare,
			&t.Pickup.Lat, &t.Pickup.Lon, &t.Pickup.Label,
			&t.Dropoff.Lat, &t.Dropoff.Lon, &t.Dropoff.Label,
			&t.Stops, &t.DistanceMeters, &t.DurationSeconds, &t.PaymentConfirmed, &t.Status, &t.CreatedAt, &t.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
