package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/wildfire-fusion/internal/config"
	"github.com/couchcryptid/wildfire-fusion/internal/domain"
	jsoniter "github.com/json-iterator/go"
	kafkago "github.com/segmentio/kafka-go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message headers set on published fire events.
const (
	HeaderStatus     = "status"
	HeaderRegion     = "region"
	HeaderUpdatedAt  = "updated_at"
	HeaderIntensity  = "intensity"
	HeaderConfidence = "confidence"
)

// Writer produces fire event updates to the sink topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic. Events
// are keyed by ID so every update for one fire lands on the same partition.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes fire events in a single WriteMessages call.
func (w *Writer) LoadBatch(ctx context.Context, events []domain.FireEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeToMessage(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d fire events: %w", len(msgs), err)
	}
	w.logger.Debug("fire events published", "count", len(msgs))
	return nil
}

// Close closes the underlying Kafka writer, flushing pending messages.
func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a FireEvent into a Kafka message.
func serializeToMessage(event domain.FireEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize fire event %s: %w", event.ID, err)
	}
	return kafkago.Message{
		Key:   []byte(event.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: HeaderStatus, Value: []byte(event.Status)},
			{Key: HeaderRegion, Value: []byte(event.Region)},
			{Key: HeaderUpdatedAt, Value: []byte(event.UpdatedAt.Format(time.RFC3339))},
			{Key: HeaderIntensity, Value: []byte(event.Intensity)},
			{Key: HeaderConfidence, Value: []byte(strconv.FormatFloat(event.Confidence, 'f', 3, 64))},
		},
	}, nil
}
