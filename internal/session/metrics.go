package session

import (
	"github.com/example/driver-session/internal/observability"
	"github.com/example/driver-session/internal/protocol"
)

func observeTransition(from, to State) {
	observability.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func observeReceived(kind protocol.Kind) {
	observability.MessagesReceived.WithLabelValues(string(kind)).Inc()
}

func observeDropped(reason string) {
	observability.MessagesDropped.WithLabelValues(reason).Inc()
}

func observeTick() { observability.TrafficTicks.Inc() }
