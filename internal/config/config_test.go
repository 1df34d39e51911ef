package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDriverConfigDefaults(t *testing.T) {
	t.Setenv("DRIVER_ID", "drv-1")
	cfg, err := LoadDriverConfig()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.ChannelRetryDelay != 5*time.Second {
		t.Fatalf("expected 5s retry delay, got %s", cfg.ChannelRetryDelay)
	}
	if cfg.TrafficTick != time.Second {
		t.Fatalf("expected 1s tick, got %s", cfg.TrafficTick)
	}
	if cfg.KafkaTopic != "driver-trip-events" {
		t.Fatalf("unexpected topic %q", cfg.KafkaTopic)
	}
}

func TestLoadDriverConfigRequiresDriverID(t *testing.T) {
	t.Setenv("DRIVER_ID", "")
	_, err := LoadDriverConfig()
	if err == nil || !strings.Contains(err.Error(), "DRIVER_ID") {
		t.Fatalf("expected DRIVER_ID error, got %v", err)
	}
}

func TestLoadDriverConfigJoinsParseErrors(t *testing.T) {
	t.Setenv("DRIVER_ID", "drv-1")
	t.Setenv("TRAFFIC_TICK", "soon")
	t.Setenv("TRAFFIC_SEED", "abc")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	cfg, err := LoadDriverConfig()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, key := range []string{"TRAFFIC_TICK", "TRAFFIC_SEED"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in %v", key, err)
		}
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestLoadDriverConfigRouteProvider(t *testing.T) {
	t.Setenv("DRIVER_ID", "drv-1")
	t.Setenv("ROUTE_PROVIDER", "Google")
	t.Setenv("GOOGLE_MAPS_API_KEY", "")
	_, err := LoadDriverConfig()
	if err == nil || !strings.Contains(err.Error(), "GOOGLE_MAPS_API_KEY") {
		t.Fatalf("expected api key error, got %v", err)
	}

	t.Setenv("ROUTE_PROVIDER", "here")
	if _, err := LoadDriverConfig(); err == nil || !strings.Contains(err.Error(), "ROUTE_PROVIDER") {
		t.Fatalf("expected provider error, got %v", err)
	}
}
