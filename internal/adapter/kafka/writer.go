// Package kafka publishes incident events to a Kafka topic for downstream
// consumers such as dispatch dashboards and audit pipelines.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/resqnet-dispatch/internal/config"
	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	headerEventKind  = "event_kind"
	headerOccurredAt = "occurred_at"
)

// Writer produces incident events to the configured topic.
// It implements dispatch.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured incident topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish writes one event keyed by incident id, so every event for an
// incident lands on the same partition in order.
func (w *Writer) Publish(ctx context.Context, event domain.IncidentEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write incident event: %w", err)
	}
	w.logger.Debug("incident event published",
		"incident_id", event.Incident.ID, "kind", string(event.Kind))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an IncidentEvent into a Kafka message.
func serializeToMessage(event domain.IncidentEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize incident event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Incident.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: headerEventKind, Value: []byte(event.Kind)},
			{Key: headerOccurredAt, Value: []byte(event.OccurredAt.Format(time.RFC3339))},
		},
	}, nil
}

// DecodeMessage parses a message produced by Writer.
func DecodeMessage(msg kafkago.Message) (domain.IncidentEvent, error) {
	var event domain.IncidentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return domain.IncidentEvent{}, fmt.Errorf("decode incident event at offset %d: %w", msg.Offset, err)
	}
	return event, nil
}
