package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "driver_session"

var (
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "transitions_total", Help: "Applied trip state transitions"},
		[]string{"from", "to"},
	)
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "messages_received_total", Help: "Decoded inbound channel messages"},
		[]string{"kind"},
	)
	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "messages_dropped_total", Help: "Inbound messages dropped without a state change"},
		[]string{"reason"},
	)
	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "publish_failures_total", Help: "Outbound publishes that could not be sent"},
		[]string{"destination"},
	)
	ChannelReconnects = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "channel_reconnects_total", Help: "Channel connection attempts after the first"})
	ChannelConnected  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "channel_connected", Help: "1 while the pub/sub channel is connected"})

	RouteLegs = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "route_legs_total", Help: "Directions lookups per leg by result"},
		[]string{"result"},
	)
	RouteComputeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "route_compute_seconds", Help: "Multi-leg route computation latency", Buckets: prometheus.DefBuckets})

	TrafficTicks = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "traffic_ticks_total", Help: "Vehicle advance ticks applied"})

	WalletCredits = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "wallet_credits_total", Help: "Wallet credit attempts by result"},
		[]string{"result"},
	)

	JournalEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "journal_events_total", Help: "Trip journal writes by result"},
		[]string{"result"},
	)

	UIClients            = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ui_clients", Help: "Connected websocket UI clients"})
	WebhookNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "webhook_notifications_total", Help: "Out-of-band update notifications by result"},
		[]string{"result"},
	)

	ProjectedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "projected_events_total", Help: "Journal events projected into the trip store by result"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
