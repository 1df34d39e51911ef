package journal

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/observability"
)

// KafkaJournal writes events asynchronously keyed by driver id, so one
// driver's events stay on one partition in order across trips.
type KafkaJournal struct {
	writer *kafka.Writer
}

func NewKafkaJournal(brokers []string, topic string, logger *slog.Logger) *KafkaJournal {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "journal", "sink", "kafka")
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Async:    true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				observability.JournalEvents.WithLabelValues("failed").Add(float64(len(msgs)))
				log.Warn("journal write failed", "messages", len(msgs), "error", err)
				return
			}
			observability.JournalEvents.WithLabelValues("ok").Add(float64(len(msgs)))
		},
	}
	return &KafkaJournal{writer: w}
}

func (k *KafkaJournal) Record(ctx context.Context, ev models.TripEvent) error {
	b, err := Encode(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: messageKey(ev), Value: b, Time: ev.At})
}

func messageKey(ev models.TripEvent) []byte { return []byte(ev.DriverID) }

// Close flushes pending async writes.
func (k *KafkaJournal) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
