package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sydlexius/contentguard/internal/event"
)

const writeTimeout = 5 * time.Second

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig locates the topic events are written to.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NewKafkaWriter builds a writer that partitions by message key, so all
// events of one content item stay ordered.
func NewKafkaWriter(cfg KafkaConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}, nil
}

// KafkaSink publishes events as JSON messages keyed by content id.
type KafkaSink struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewKafkaSink creates a sink over w.
func NewKafkaSink(w MessageWriter, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{
		writer: w,
		logger: logger.With(slog.String("component", "kafka-sink")),
	}
}

// HandleEvent writes e to the topic. Failures are logged; the event is not
// retried beyond the writer's own attempts.
func (s *KafkaSink) HandleEvent(e event.Event) {
	value, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("encoding event", slog.String("type", string(e.Type)), slog.String("error", err.Error()))
		return
	}

	msg := kafka.Message{
		Key:   []byte(e.ContentID),
		Value: value,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Warn("writing event to kafka",
			slog.String("type", string(e.Type)),
			slog.String("content_id", e.ContentID),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("event written to kafka", slog.String("type", string(e.Type)))
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
