package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/example/driver-session/internal/channel"
	"github.com/example/driver-session/internal/config"
	"github.com/example/driver-session/internal/dispatch"
	"github.com/example/driver-session/internal/geo"
	"github.com/example/driver-session/internal/geocode"
	httpapi "github.com/example/driver-session/internal/http"
	"github.com/example/driver-session/internal/journal"
	"github.com/example/driver-session/internal/logging"
	"github.com/example/driver-session/internal/payments"
	"github.com/example/driver-session/internal/route"
	"github.com/example/driver-session/internal/session"
	"github.com/example/driver-session/internal/storage"
	"github.com/example/driver-session/internal/traffic"
)

func main() {
	cfg, err := config.LoadDriverConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("driver session exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.DriverConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var opts []httpapi.Option

	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		opts = append(opts, httpapi.WithReadinessCheck("redis", func(ctx context.Context) error {
			return rc.Ping(ctx).Err()
		}))
	}

	var store storage.TripStore = storage.NewMemoryStore()
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer ps.Close()
		if cfg.RunMigrations {
			applied, err := ps.Migrate(ctx)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", "files", applied)
		}
		store = ps
		opts = append(opts, httpapi.WithReadinessCheck("postgres", ps.Ping))
	}
	opts = append(opts, httpapi.WithHistory(store))

	router, err := buildRouter(cfg, logger)
	if err != nil {
		return err
	}
	gate, err := buildGate(cfg, rc, logger)
	if err != nil {
		return err
	}
	geocoder, err := buildGeocoder(cfg)
	if err != nil {
		return err
	}
	jr, err := buildJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer jr.Close()

	var tracker geo.Tracker = geo.NewIndex()
	if rc != nil {
		tracker = geo.NewRedisGeo(rc, "")
	}

	ch := channel.New(channel.Options{
		Endpoint:   cfg.ChannelEndpoint,
		DriverID:   cfg.DriverID,
		Login:      cfg.ChannelLogin,
		Passcode:   cfg.ChannelPasscode,
		RetryDelay: cfg.ChannelRetryDelay,
	}, logger)
	if err := ch.Connect(ctx); err != nil {
		return err
	}
	defer ch.Disconnect()
	if err := ch.Subscribe(channel.DriverTopic(cfg.DriverID)); err != nil {
		return err
	}
	opts = append(opts, httpapi.WithReadinessCheck("channel", func(context.Context) error {
		if !ch.Connected() {
			return channel.ErrNotConnected
		}
		return nil
	}))

	sess, err := session.New(session.Driver{ID: cfg.DriverID, Name: cfg.DriverName, Rating: cfg.DriverRating}, session.Deps{
		Transport: ch,
		Router:    router,
		Simulator: traffic.NewSimulator(traffic.NewSource(cfg.TrafficSeed), cfg.TrafficBaseUnit),
		Payments:  gate,
		Geocoder:  geocoder,
		Journal:   jr,
		Store:     store,
		Tracker:   tracker,
		Logger:    logger,
		Tick:      cfg.TrafficTick,
	})
	if err != nil {
		return err
	}

	hub := dispatch.NewHub(logger)
	defer hub.Close()
	var notifier dispatch.Notifier
	if cfg.WebhookURL != "" {
		notifier = dispatch.NewWebhook(cfg.WebhookURL, cfg.WebhookToken)
	}
	go dispatch.Forward(ctx, hub, sess.Updates(), notifier, func(u session.Update) bool {
		return u.Kind == session.UpdateRatingPrompt || u.Kind == session.UpdatePaymentError
	})

	opts = append(opts, httpapi.WithHub(hub))
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(sess, logger, opts...),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("driver session listening", "addr", cfg.HTTPAddr, "driver_id", cfg.DriverID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			cancel()
		}
	}()

	runErr := sess.Run(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func buildRouter(cfg config.DriverConfig, logger *slog.Logger) (*route.Engine, error) {
	var dir route.Directions
	switch cfg.RouteProvider {
	case "google":
		g, err := route.NewGoogleDirections(cfg.GoogleMapsAPIKey)
		if err != nil {
			return nil, err
		}
		dir = g
	default:
		dir = route.NewOSRMClient(cfg.OSRMEndpoint, cfg.RouteFetchTimeout)
	}
	return route.NewEngine(dir, logger,
		route.WithCache(route.NewCache(cfg.RouteCacheTTL)),
		route.WithLegTimeout(cfg.RouteFetchTimeout),
	), nil
}

func buildGate(cfg config.DriverConfig, rc *redis.Client, logger *slog.Logger) (*payments.Gate, error) {
	var wallet payments.Wallet = payments.NewHTTPWallet(cfg.WalletEndpoint)
	if cfg.StripeAPIKey != "" {
		wallet = payments.NewStripeWallet(cfg.StripeAPIKey, cfg.StripeCurrency)
	}
	var claims payments.ClaimStore = payments.NewMemoryClaims()
	if rc != nil {
		claims = payments.NewRedisClaims(rc)
	}
	return payments.NewGate(wallet, claims, cfg.PaymentIdempotencyTTL, logger), nil
}

func buildGeocoder(cfg config.DriverConfig) (geocode.Geocoder, error) {
	if cfg.GoogleMapsAPIKey != "" {
		g, err := geocode.NewGoogle(cfg.GoogleMapsAPIKey)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	return geocode.NewNominatim(cfg.NominatimEndpoint).WithLimit(rate.Every(time.Second), 1), nil
}

func buildJournal(ctx context.Context, cfg config.DriverConfig, logger *slog.Logger) (journal.Journal, error) {
	var tee journal.Tee
	if len(cfg.KafkaBrokers) > 0 {
		tee = append(tee, journal.NewKafkaJournal(cfg.KafkaBrokers, cfg.KafkaTopic, logger))
	}
	if cfg.AMQPURL != "" {
		aj, err := journal.DialAMQP(ctx, cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return nil, err
		}
		tee = append(tee, aj)
	}
	switch len(tee) {
	case 0:
		return journal.Nop{}, nil
	case 1:
		return tee[0], nil
	}
	return tee, nil
}
