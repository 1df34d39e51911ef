package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/driver-session/internal/models"
)

// RedisGeo implements Tracker using Redis GEO commands, with a metadata
// hash per driver.
type RedisGeo struct {
	client redis.UniversalClient
	key    string
}

func NewRedisGeo(client redis.UniversalClient, key string) *RedisGeo {
	if key == "" {
		key = "drivers:online"
	}
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Track(ctx context.Context, driverID string, p models.GeoPoint) error {
	pipe := r.client.TxPipeline()
	pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Lon, Latitude: p.Lat, Name: driverID})
	pipe.HSet(ctx, metaKey(driverID), map[string]interface{}{
		"label":   p.Label,
		"updated": time.Now().UTC().Format(time.RFC3339),
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisGeo) Forget(ctx context.Context, driverID string) error {
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.key, driverID)
	pipe.Del(ctx, metaKey(driverID))
	_, err := pipe.Exec(ctx)
	return err
}

// Position reads back the stored point for a driver.
func (r *RedisGeo) Position(ctx context.Context, driverID string) (models.GeoPoint, bool, error) {
	pos, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil {
		return models.GeoPoint{}, false, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return models.GeoPoint{}, false, nil
	}
	label, _ := r.client.HGet(ctx, metaKey(driverID), "label").Result()
	return models.GeoPoint{Lat: pos[0].Latitude, Lon: pos[0].Longitude, Label: label}, true, nil
}

func metaKey(id string) string { return "driver:meta:" + id }
