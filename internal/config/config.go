package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DriverConfig captures all tunable parameters for one driver-session
// process. Values come from environment variables; everything except the
// driver id has a default so the binary runs against local services.
type DriverConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	DriverID     string
	DriverName   string
	DriverRating float64

	ChannelEndpoint   string
	ChannelRetryDelay time.Duration
	ChannelLogin      string
	ChannelPasscode   string

	RouteProvider     string
	OSRMEndpoint      string
	RouteCacheTTL     time.Duration
	RouteFetchTimeout time.Duration

	TrafficTick     time.Duration
	TrafficBaseUnit time.Duration
	TrafficSeed     int64

	WalletEndpoint        string
	StripeAPIKey          string
	StripeCurrency        string
	PaymentIdempotencyTTL time.Duration

	RedisAddr     string
	RedisPassword string

	GoogleMapsAPIKey  string
	NominatimEndpoint string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	AMQPURL      string
	AMQPExchange string

	PGDSN string

	WebhookURL   string
	WebhookToken string

	LogLevel      string
	RunMigrations bool
}

func defaultDriverConfig() DriverConfig {
	return DriverConfig{
		HTTPAddr:              ":8080",
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           120 * time.Second,
		ShutdownTimeout:       15 * time.Second,
		ChannelEndpoint:       "ws://localhost:9090/gs-guide-websocket",
		ChannelRetryDelay:     5 * time.Second,
		RouteProvider:         "osrm",
		OSRMEndpoint:          "https://router.project-osrm.org",
		RouteCacheTTL:         5 * time.Minute,
		RouteFetchTimeout:     5 * time.Second,
		TrafficTick:           time.Second,
		TrafficBaseUnit:       30 * time.Second,
		WalletEndpoint:        "http://localhost:8081",
		StripeCurrency:        "inr",
		PaymentIdempotencyTTL: 24 * time.Hour,
		NominatimEndpoint:     "https://nominatim.openstreetmap.org",
		KafkaTopic:            "driver-trip-events",
		KafkaGroup:            "driver-trip-journal",
		AMQPExchange:          "driver_trip_topic",
		LogLevel:              "info",
	}
}

func LoadDriverConfig() (DriverConfig, error) {
	cfg := defaultDriverConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.DriverID, "DRIVER_ID")
	setStringFromEnv(&cfg.DriverName, "DRIVER_NAME")
	setFloatFromEnv(&cfg.DriverRating, "DRIVER_RATING", &errs)

	setStringFromEnv(&cfg.ChannelEndpoint, "CHANNEL_ENDPOINT")
	setDurationFromEnv(&cfg.ChannelRetryDelay, "CHANNEL_RETRY_DELAY", &errs)
	cfg.ChannelLogin = os.Getenv("CHANNEL_LOGIN")
	cfg.ChannelPasscode = os.Getenv("CHANNEL_PASSCODE")

	if v := os.Getenv("ROUTE_PROVIDER"); v != "" {
		cfg.RouteProvider = strings.ToLower(strings.TrimSpace(v))
	}
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)
	setDurationFromEnv(&cfg.RouteFetchTimeout, "ROUTE_FETCH_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.TrafficTick, "TRAFFIC_TICK", &errs)
	setDurationFromEnv(&cfg.TrafficBaseUnit, "TRAFFIC_BASE_UNIT", &errs)
	setInt64FromEnv(&cfg.TrafficSeed, "TRAFFIC_SEED", &errs)

	setStringFromEnv(&cfg.WalletEndpoint, "WALLET_ENDPOINT")
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.StripeCurrency, "STRIPE_CURRENCY")
	setDurationFromEnv(&cfg.PaymentIdempotencyTTL, "PAYMENT_IDEMPOTENCY_TTL", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.GoogleMapsAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	setStringFromEnv(&cfg.NominatimEndpoint, "NOMINATIM_ENDPOINT")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.WebhookURL = strings.TrimSpace(os.Getenv("UPDATES_WEBHOOK_URL"))
	cfg.WebhookToken = os.Getenv("UPDATES_WEBHOOK_TOKEN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.DriverID == "" {
		errs = append(errs, fmt.Errorf("DRIVER_ID is required"))
	}
	if cfg.ChannelRetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("CHANNEL_RETRY_DELAY must be > 0"))
	}
	switch cfg.RouteProvider {
	case "osrm":
	case "google":
		if cfg.GoogleMapsAPIKey == "" {
			errs = append(errs, fmt.Errorf("ROUTE_PROVIDER=google needs GOOGLE_MAPS_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ROUTE_PROVIDER %q", cfg.RouteProvider))
	}
	if cfg.TrafficTick <= 0 {
		errs = append(errs, fmt.Errorf("TRAFFIC_TICK must be > 0"))
	}
	if cfg.TrafficBaseUnit <= 0 {
		errs = append(errs, fmt.Errorf("TRAFFIC_BASE_UNIT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig is the subset read by the journal projector.
type ConsumerConfig struct {
	MetricsAddr  string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	PGDSN        string
	RedisAddr    string
	LogLevel     string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "driver-trip-events",
		KafkaGroup:   "driver-trip-journal",
		LogLevel:     "info",
	}
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return cfg, fmt.Errorf("KAFKA_BROKERS must list at least one broker")
	}
	return cfg, nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
