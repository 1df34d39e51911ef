package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/observability"
)

// AMQPJournal publishes events to a topic exchange with routing key
// "trip.<state>".
type AMQPJournal struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// DialAMQP connects with a few spaced retries and declares the exchange.
func DialAMQP(ctx context.Context, url, exchange string, logger *slog.Logger) (*AMQPJournal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "journal", "sink", "amqp")

	var conn *amqp.Connection
	var err error
	delay := 500 * time.Millisecond
	for attempt := 1; attempt <= 5; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn("amqp connect failed", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after retries: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPJournal{conn: conn, ch: ch, exchange: exchange, logger: log}, nil
}

func RoutingKey(ev models.TripEvent) string { return "trip." + ev.To }

func (a *AMQPJournal) Record(ctx context.Context, ev models.TripEvent) error {
	b, err := Encode(ev)
	if err != nil {
		return err
	}
	err = a.ch.PublishWithContext(ctx, a.exchange, RoutingKey(ev), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.At,
		Body:         b,
	})
	if err != nil {
		observability.JournalEvents.WithLabelValues("failed").Inc()
		return err
	}
	observability.JournalEvents.WithLabelValues("ok").Inc()
	return nil
}

func (a *AMQPJournal) Close() error {
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
