package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/driver-session/internal/config"
	"github.com/example/driver-session/internal/journal"
	"github.com/example/driver-session/internal/logging"
	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/observability"
	"github.com/example/driver-session/internal/storage"
)

// The projector reads the trip journal from Kafka and keeps the trip_events
// table and a per-driver "current trip" hash in Redis up to date.
func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel).With("component", "journal_projector")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		sinks  []Sink
		checks = map[string]func(context.Context) error{}
	)
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("postgres", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		sinks = append(sinks, storeSink{store: ps})
		checks["postgres"] = ps.Ping
	}
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rc.Close()
		sinks = append(sinks, &redisSink{c: &redisAdapter{c: rc}})
		checks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}
	if len(sinks) == 0 {
		logger.Warn("no PG_DSN or REDIS_ADDR configured, events are only counted")
	}

	go serveHealth(cfg.MetricsAddr, checks, logger)

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer r.Close()

	logger.Info("projector listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down projector")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		ev, err := journal.Decode(m.Value)
		if err != nil {
			observability.ProjectedEvents.WithLabelValues("invalid").Inc()
			logger.Warn("invalid journal message", "offset", m.Offset, "error", err)
			continue
		}
		if err := projectWithRetry(ctx, sinks, ev, 3, 200*time.Millisecond); err != nil {
			observability.ProjectedEvents.WithLabelValues("failed").Inc()
			logger.Error("projection failed", "trip_id", ev.TripID, "event_id", ev.ID, "error", err)
			continue
		}
		observability.ProjectedEvents.WithLabelValues("ok").Inc()
	}
}

func serveHealth(addr string, checks map[string]func(context.Context) error, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				http.Error(w, name+" not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", "error", err)
	}
}

// Sink is one projection target. Apply must be idempotent per event id.
type Sink interface {
	Apply(ctx context.Context, ev models.TripEvent) error
}

type storeSink struct{ store storage.TripStore }

func (s storeSink) Apply(ctx context.Context, ev models.TripEvent) error {
	return s.store.AppendEvent(ctx, ev)
}

// RedisUpdater is the subset of redis used by the current-trip projection.
// Update reads the hash at key, asks decide what to do with it and applies
// the answer atomically.
type RedisUpdater interface {
	Update(ctx context.Context, key string, decide func(cur map[string]string) hashOp) error
}

// hashOp is the change decided for a current-trip hash.
type hashOp struct {
	skip   bool
	del    bool
	values map[string]interface{}
}

type redisAdapter struct{ c *redis.Client }

const maxWatchRetries = 5

func (r *redisAdapter) Update(ctx context.Context, key string, decide func(cur map[string]string) hashOp) error {
	txf := func(tx *redis.Tx) error {
		cur, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		op := decide(cur)
		if op.skip {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if op.del {
				pipe.Del(ctx, key)
			} else {
				pipe.HSet(ctx, key, op.values)
			}
			return nil
		})
		return err
	}
	for i := 0; i < maxWatchRetries; i++ {
		err := r.c.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}

// redisSink keeps driver:trip:{driver} pointing at the driver's open trip.
// Events older than what the hash already holds are ignored, so a late
// event from a finished trip cannot clear or overwrite the next one.
type redisSink struct{ c RedisUpdater }

func currentTripKey(driverID string) string { return "driver:trip:" + driverID }

func (s *redisSink) Apply(ctx context.Context, ev models.TripEvent) error {
	return s.c.Update(ctx, currentTripKey(ev.DriverID), func(cur map[string]string) hashOp {
		return currentTripOp(cur, ev)
	})
}

func currentTripOp(cur map[string]string, ev models.TripEvent) hashOp {
	at := ev.At.UnixMilli()
	if raw, ok := cur["at"]; ok {
		if stored, err := strconv.ParseInt(raw, 10, 64); err == nil && stored > at {
			return hashOp{skip: true}
		}
	}
	if ev.To == "idle" {
		if tid := cur["trip_id"]; tid != "" && tid != ev.TripID {
			return hashOp{skip: true}
		}
		return hashOp{del: true}
	}
	return hashOp{values: map[string]interface{}{
		"trip_id": ev.TripID,
		"state":   ev.To,
		"at":      at,
	}}
}

// projectWithRetry applies ev to every sink, retrying each with doubling delay.
func projectWithRetry(ctx context.Context, sinks []Sink, ev models.TripEvent, attempts int, delay time.Duration) error {
	for _, s := range sinks {
		d := delay
		for i := 0; ; i++ {
			err := s.Apply(ctx, ev)
			if err == nil {
				break
			}
			if i == attempts-1 {
				return err
			}
			if !sleepCtx(ctx, d) {
				return ctx.Err()
			}
			d *= 2
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
